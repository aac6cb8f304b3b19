// Package postgres stores recordings, transcript artifacts, learned
// correction patterns and error-variant embeddings in PostgreSQL.
//
// All stores share one [pgxpool.Pool]. The pgvector extension is needed only
// for the variant index; [Migrate] installs it when embedding dimensions are
// configured.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, postgres.Options{EmbeddingDimensions: 256})
//	if err != nil { … }
//	defer store.Close()
//
//	engine := correction.New(ctx,
//	    correction.WithPatternStore(store.Patterns()),
//	    correction.WithSimilaritySearcher(store.Variants(provider)),
//	)
package postgres

import (
	"context"
	"fmt"
)

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    id                   TEXT         PRIMARY KEY,
    conversation_id      TEXT         NOT NULL,
    created_at           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    audio                BYTEA,
    transcription        TEXT         NOT NULL DEFAULT '',
    words                JSONB        NOT NULL DEFAULT '[]',
    language             TEXT         NOT NULL DEFAULT '',
    processed            BOOLEAN      NOT NULL DEFAULT false,
    processed_at         TIMESTAMPTZ,
    corrected_text       TEXT         NOT NULL DEFAULT '',
    correction_count     INTEGER      NOT NULL DEFAULT 0,
    quality              JSONB        NOT NULL DEFAULT '{}',
    clarification_needed BOOLEAN      NOT NULL DEFAULT false,
    retranscribed        BOOLEAN      NOT NULL DEFAULT false,
    transcript_path      TEXT         NOT NULL DEFAULT '',
    attributes           JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_recordings_created_at
    ON recordings (created_at);

CREATE INDEX IF NOT EXISTS idx_recordings_unprocessed
    ON recordings (created_at) WHERE NOT processed;

CREATE TABLE IF NOT EXISTS transcripts (
    path             TEXT         PRIMARY KEY,
    conversation_id  TEXT         NOT NULL,
    recording_id     TEXT         NOT NULL,
    data             JSONB        NOT NULL,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_recording
    ON transcripts (recording_id);
`

const ddlPatterns = `
CREATE TABLE IF NOT EXISTS correction_patterns (
    original    TEXT         PRIMARY KEY,
    corrected   TEXT         NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlVariants returns the variant embedding DDL with the vector dimension
// substituted. The dimension is fixed at table creation.
func ddlVariants(dims int, hnsw bool) string {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS variant_embeddings (
    variant    TEXT  PRIMARY KEY,
    model      TEXT  NOT NULL DEFAULT '',
    embedding  vector(%d) NOT NULL
);
`, dims)
	if hnsw {
		ddl += `
CREATE INDEX IF NOT EXISTS idx_variant_embeddings_hnsw
    ON variant_embeddings USING hnsw (embedding vector_cosine_ops);
`
	}
	return ddl
}

// Migrate creates every table and index the stores need. It is idempotent
// and safe to call on every start.
//
// Changing EmbeddingDimensions after the first migration requires dropping
// variant_embeddings by hand.
func Migrate(ctx context.Context, db DB, opts Options) error {
	statements := []string{ddlRecordings, ddlPatterns}
	if opts.EmbeddingDimensions > 0 {
		statements = append(statements, ddlVariants(opts.EmbeddingDimensions, opts.VectorIndex))
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
