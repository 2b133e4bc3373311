package edge

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/keystore"
)

// maxWebhookBody caps the webhook payload read. Stripe events run well
// past the translate body cap, so the webhook has its own limit.
const maxWebhookBody = 64 << 10

// handleStripeWebhook verifies, dedupes, and fulfills
// checkout.session.completed events by minting an API key and parking
// it for the one-time billing handoff.
func (s *server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		writeCode(w, bhasha.CodePayloadTooLarge)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.deps.WebhookSecret)
	if err != nil {
		s.deps.Audit.Append(audit.KindWebhookBadSig, map[string]string{
			"ip": clientIP(r),
		})
		writeCode(w, bhasha.CodeBadSignature)
		return
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{"ignored": true}))
		return
	}

	inserted, err := s.deps.Keys.MarkEvent(r.Context(), event.ID, keystore.EventTTL)
	if err != nil {
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	if !inserted {
		s.deps.Audit.Append(audit.KindWebhookReplay, map[string]string{
			"event_id": event.ID,
		})
		writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{"duplicate": true}))
		return
	}

	sessionID := gjson.GetBytes(event.Data.Raw, "id").String()
	plan := gjson.GetBytes(event.Data.Raw, "metadata.plan").String()
	if plan == "" {
		plan = "pro"
	}
	email := gjson.GetBytes(event.Data.Raw, "customer_details.email").String()

	key, err := s.mintKey()
	if err != nil {
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	meta := bhasha.KeyMeta{
		Plan:          plan,
		IssuedAt:      time.Now().UTC(),
		SourceEventID: event.ID,
		Email:         email,
	}
	if err := s.deps.Keys.SetKey(r.Context(), key, meta); err != nil {
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	if sessionID != "" {
		if err := s.deps.Keys.PutSession(r.Context(), sessionID, key, keystore.SessionTTL); err != nil {
			writeCode(w, bhasha.CodeQuotaUnavailable)
			return
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.KeysMinted.Inc()
	}
	s.deps.Audit.Append(audit.KindKeyMinted, map[string]string{
		"key_hash": bhasha.HashKey(key),
		"event_id": event.ID,
		"plan":     plan,
	})
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{"minted": true}))
}

// mintKey generates a 256-bit random key under the environment prefix.
func (s *server) mintKey() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return s.deps.MintPrefix + hex.EncodeToString(buf[:]), nil
}

// handleBillingKey performs the one-time session-to-key handoff. The
// read is destructive: a second call for the same session 404s.
func (s *server) handleBillingKey(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeCode(w, bhasha.CodeBadRequest)
		return
	}
	key, found, err := s.deps.Keys.TakeSession(r.Context(), sessionID)
	if err != nil {
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	if !found {
		writeCode(w, bhasha.CodeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{"api_key": key}))
}
