package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/storage"
)

const phraseColumns = `src_lang, src_text, normalized_src, tgt_lang, tgt_text, pack, safety_level, created_at`

// Lookup resolves the best matching phrase for the given identity
// coordinates. When several rows match, the lowest safety level wins,
// then the "default" pack, then the oldest row.
func (s *Store) Lookup(ctx context.Context, opts storage.LookupOpts) (*bhasha.PhraseEntry, bool, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + phraseColumns + ` FROM phrases
		 WHERE src_lang = ? AND normalized_src = ? AND tgt_lang = ? AND safety_level <= ?`)
	args := []any{opts.SrcLang, opts.NormalizedSrc, opts.TgtLang, opts.SafetyMax}
	if opts.Pack != "" {
		sb.WriteString(` AND pack = ?`)
		args = append(args, opts.Pack)
	}
	sb.WriteString(` ORDER BY safety_level ASC, pack = 'default' DESC, created_at ASC, id ASC LIMIT 1`)

	row := s.read.QueryRowContext(ctx, sb.String(), args...)
	entry, err := scanPhrase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry, true, nil
}

// Upsert inserts a phrase, treating an identity conflict as success.
// Existing rows are never overwritten by the request path.
func (s *Store) Upsert(ctx context.Context, entry *bhasha.PhraseEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO phrases (src_lang, src_text, normalized_src, tgt_lang, tgt_text, pack, safety_level, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (src_lang, normalized_src, tgt_lang, pack) DO NOTHING`,
		entry.SrcLang, entry.SrcText, entry.NormalizedSrc, entry.TgtLang,
		entry.TgtText, entry.Pack, entry.SafetyLevel,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Count returns the number of stored phrases matching the filter.
func (s *Store) Count(ctx context.Context, filter storage.CountFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM phrases WHERE 1=1`
	var args []any
	if filter.SrcLang != "" {
		query += ` AND src_lang = ?`
		args = append(args, filter.SrcLang)
	}
	if filter.Pack != "" {
		query += ` AND pack = ?`
		args = append(args, filter.Pack)
	}
	var n int64
	err := s.read.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPhrase(sc scanner) (*bhasha.PhraseEntry, error) {
	var e bhasha.PhraseEntry
	var createdAt string
	if err := sc.Scan(
		&e.SrcLang, &e.SrcText, &e.NormalizedSrc, &e.TgtLang,
		&e.TgtText, &e.Pack, &e.SafetyLevel, &createdAt,
	); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}
