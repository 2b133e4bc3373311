package origin

import (
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/normalize"
	"github.com/nafisf/bhasha/internal/storage"
)

// safetyUnbounded lets the pro path see every stored tier.
const safetyUnbounded = 1<<31 - 1

// injectionMarkers are rejected outright. Translations are echoed into
// web pages by some clients, so template and script fragments never
// enter the store.
var injectionMarkers = []string{"<script", "javascript:", "${", "{{"}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		writeCode(w, bhasha.CodeStoreUnavailable)
		return
	}
	n, err := s.deps.Store.Count(ctx, storage.CountFilter{})
	if err != nil {
		writeCode(w, bhasha.CodeStoreUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{
		"db_path":   s.deps.DBPath,
		"row_count": n,
	}))
}

func (s *server) handleTranslateFree(w http.ResponseWriter, r *http.Request) {
	req, code := s.parseTranslate(r, false)
	if code != "" {
		s.rejectRequest(w, r, code)
		return
	}
	entry, ok, err := s.deps.Store.Lookup(r.Context(), storage.LookupOpts{
		SrcLang:       req.SrcLang,
		NormalizedSrc: normalize.Phrase(req.Text),
		TgtLang:       req.TgtLang,
		SafetyMax:     bhasha.SafetyFree,
	})
	if err != nil {
		writeCode(w, bhasha.CodeStoreUnavailable)
		return
	}
	if !ok {
		// The free path never calls the model.
		writeCode(w, bhasha.CodeNotFound)
		return
	}
	s.writeHit(w, req, entry)
}

func (s *server) handleTranslatePro(w http.ResponseWriter, r *http.Request) {
	req, code := s.parseTranslate(r, true)
	if code != "" {
		s.rejectRequest(w, r, code)
		return
	}
	normalized := normalize.Phrase(req.Text)
	entry, ok, err := s.deps.Store.Lookup(r.Context(), storage.LookupOpts{
		SrcLang:       req.SrcLang,
		NormalizedSrc: normalized,
		TgtLang:       req.TgtLang,
		SafetyMax:     safetyUnbounded,
		Pack:          req.Pack,
	})
	if err != nil {
		writeCode(w, bhasha.CodeStoreUnavailable)
		return
	}
	if ok {
		s.writeHit(w, req, entry)
		return
	}
	if s.deps.Translator == nil {
		writeCode(w, bhasha.CodeNotFound)
		return
	}
	s.fallback(w, r, req, normalized)
}

// fallback asks the model for a translation and persists the result as
// an auto-pack entry so the next miss is a store hit.
func (s *server) fallback(w http.ResponseWriter, r *http.Request, req bhasha.TranslateRequest, normalized string) {
	s.audit(r, "fallback_call", map[string]string{
		"src_lang": req.SrcLang,
		"tgt_lang": req.TgtLang,
	})
	tgt, err := s.deps.Translator.Translate(r.Context(), req.Text, req.SrcLang, req.TgtLang)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.FallbackFail.WithLabelValues("model").Inc()
		}
		s.audit(r, "fallback_fail", map[string]string{"reason": "model"})
		writeCode(w, bhasha.CodeNotFound)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.FallbackOK.Inc()
	}

	entry := &bhasha.PhraseEntry{
		SrcLang:       req.SrcLang,
		SrcText:       req.Text,
		NormalizedSrc: normalized,
		TgtLang:       req.TgtLang,
		TgtText:       tgt,
		Pack:          bhasha.PackAuto,
		SafetyLevel:   s.deps.FallbackSafety,
		CreatedAt:     time.Now().UTC(),
	}
	// Best effort: a write failure costs a repeat model call later, not
	// the response.
	if err := s.deps.Store.Upsert(r.Context(), entry); err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.FallbackFail.WithLabelValues("insert").Inc()
		}
		s.audit(r, "fallback_fail", map[string]string{"reason": "insert"})
	}

	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(bhasha.Translation{
		Src:     req.Text,
		Tgt:     tgt,
		SrcLang: req.SrcLang,
		TgtLang: req.TgtLang,
		Source:  "gpt",
		Pack:    bhasha.PackAuto,
	}))
}

func (s *server) writeHit(w http.ResponseWriter, req bhasha.TranslateRequest, entry *bhasha.PhraseEntry) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.DBHits.Inc()
	}
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(bhasha.Translation{
		Src:     req.Text,
		Tgt:     entry.TgtText,
		SrcLang: entry.SrcLang,
		TgtLang: entry.TgtLang,
		Source:  "db",
		Pack:    entry.Pack,
	}))
}

// parseTranslate validates the request body and returns either a
// request or a canonical error code. The wire accepts "text" with "q"
// as a legacy alias.
func (s *server) parseTranslate(r *http.Request, allowPack bool) (bhasha.TranslateRequest, string) {
	body := requestBody(r)
	if !gjson.ValidBytes(body) {
		return bhasha.TranslateRequest{}, bhasha.CodeInvalidJSON
	}
	text := gjson.GetBytes(body, "text").String()
	if text == "" {
		text = gjson.GetBytes(body, "q").String()
	}
	text = strings.TrimSpace(normalize.StripControl(text))
	if text == "" {
		return bhasha.TranslateRequest{}, bhasha.CodeMissingQuery
	}
	if len([]rune(text)) > maxTextLen {
		return bhasha.TranslateRequest{}, bhasha.CodeBadRequest
	}
	lowered := strings.ToLower(text)
	for _, m := range injectionMarkers {
		if strings.Contains(lowered, m) {
			return bhasha.TranslateRequest{}, bhasha.CodeBadRequest
		}
	}

	srcLang := gjson.GetBytes(body, "src_lang").String()
	tgtLang := gjson.GetBytes(body, "tgt_lang").String()
	if srcLang == "" {
		srcLang = bhasha.LangBanglish
	}
	if tgtLang == "" {
		if srcLang == bhasha.LangBanglish {
			tgtLang = bhasha.LangEnglish
		} else {
			tgtLang = bhasha.LangBanglish
		}
	}
	if !bhasha.ValidLang(srcLang) || !bhasha.ValidLang(tgtLang) || srcLang == tgtLang {
		return bhasha.TranslateRequest{}, bhasha.CodeBadRequest
	}

	req := bhasha.TranslateRequest{Text: text, SrcLang: srcLang, TgtLang: tgtLang}
	if allowPack {
		req.Pack = gjson.GetBytes(body, "pack").String()
	}
	return req, ""
}

func (s *server) rejectRequest(w http.ResponseWriter, r *http.Request, code string) {
	s.deps.Audit.Append(audit.KindBadRequest, map[string]string{
		"code":  code,
		"route": r.URL.Path,
		"ip":    clientIP(r),
	})
	writeCode(w, code)
}
