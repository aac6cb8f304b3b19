package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// PatternStore implements [correction.PatternStore] over the
// correction_patterns table.
type PatternStore struct {
	db DB
}

// NewPatternStore returns a PatternStore using db.
func NewPatternStore(db DB) *PatternStore {
	return &PatternStore{db: db}
}

// Load returns every learned pattern keyed by lower-cased error token.
func (s *PatternStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT original, corrected FROM correction_patterns`)
	if err != nil {
		return nil, fmt.Errorf("pattern store: load: %w", err)
	}
	out := map[string]string{}
	var original, corrected string
	_, err = pgx.ForEachRow(rows, []any{&original, &corrected}, func() error {
		out[strings.ToLower(original)] = corrected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pattern store: scan rows: %w", err)
	}
	return out, nil
}

// Save upserts one pattern.
func (s *PatternStore) Save(ctx context.Context, original, corrected string) error {
	const q = `
		INSERT INTO correction_patterns (original, corrected)
		VALUES ($1, $2)
		ON CONFLICT (original) DO UPDATE SET
		    corrected  = EXCLUDED.corrected,
		    updated_at = now()`
	if _, err := s.db.Exec(ctx, q, strings.ToLower(original), corrected); err != nil {
		return fmt.Errorf("pattern store: save %q: %w", original, err)
	}
	return nil
}
