package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
)

// VariantIndex implements [correction.SimilaritySearcher] with pgvector.
// Variant embeddings live in the variant_embeddings table, optionally behind
// an HNSW index, and survive restarts: a rebuild only embeds variants the
// table does not already hold for the provider's model.
type VariantIndex struct {
	db       DB
	provider embeddings.Provider
}

// NewVariantIndex returns a VariantIndex over db. A nil provider yields an
// index that reports itself unavailable.
func NewVariantIndex(db DB, provider embeddings.Provider) *VariantIndex {
	return &VariantIndex{db: db, provider: provider}
}

// Available reports whether an embedding provider is configured.
func (ix *VariantIndex) Available() bool { return ix.provider != nil }

// Rebuild makes the table hold exactly variants. Missing embeddings are
// computed in one batch; the replacement runs in a single transaction so
// concurrent queries see the old or the new catalog.
func (ix *VariantIndex) Rebuild(ctx context.Context, variants []string) error {
	if ix.provider == nil {
		return errors.New("variant index: no embedding provider")
	}
	model := ix.provider.ModelID()

	rows, err := ix.db.Query(ctx, `SELECT variant FROM variant_embeddings WHERE model = $1`, model)
	if err != nil {
		return fmt.Errorf("variant index: list: %w", err)
	}
	known, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("variant index: scan rows: %w", err)
	}
	have := make(map[string]struct{}, len(known))
	for _, v := range known {
		have[v] = struct{}{}
	}

	var missing []string
	for _, v := range variants {
		if _, ok := have[v]; !ok {
			missing = append(missing, v)
		}
	}
	var vecs [][]float32
	if len(missing) > 0 {
		if vecs, err = ix.provider.EmbedBatch(ctx, missing); err != nil {
			return fmt.Errorf("variant index: embed %d variants: %w", len(missing), err)
		}
		if len(vecs) != len(missing) {
			return fmt.Errorf("variant index: provider returned %d vectors for %d variants", len(vecs), len(missing))
		}
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM variant_embeddings WHERE model <> $1 OR NOT (variant = ANY($2))`, model, variants)
	for i, v := range missing {
		batch.Queue(`
			INSERT INTO variant_embeddings (variant, model, embedding)
			VALUES ($1, $2, $3)
			ON CONFLICT (variant) DO UPDATE SET
			    model     = EXCLUDED.model,
			    embedding = EXCLUDED.embedding`,
			v, model, pgvector.NewVector(vecs[i]))
	}
	if err := ix.sendTx(ctx, batch); err != nil {
		return fmt.Errorf("variant index: replace: %w", err)
	}
	return nil
}

// sendTx runs batch inside one transaction when db can begin one.
func (ix *VariantIndex) sendTx(ctx context.Context, batch *pgx.Batch) error {
	type beginner interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	}
	b, ok := ix.db.(beginner)
	if !ok {
		return errors.New("database handle cannot begin transactions")
	}
	return pgx.BeginFunc(ctx, b, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Nearest embeds token and returns the variant with the smallest cosine
// distance. An empty table returns variant "".
func (ix *VariantIndex) Nearest(ctx context.Context, token string) (string, float64, error) {
	if ix.provider == nil {
		return "", 0, errors.New("variant index: no embedding provider")
	}
	vec, err := ix.provider.Embed(ctx, token)
	if err != nil {
		return "", 0, fmt.Errorf("variant index: embed token: %w", err)
	}

	const q = `
		SELECT variant, embedding <=> $1 AS distance
		FROM   variant_embeddings
		WHERE  model = $2
		ORDER  BY distance
		LIMIT  1`
	var (
		variant  string
		distance float64
	)
	err = ix.db.QueryRow(ctx, q, pgvector.NewVector(vec), ix.provider.ModelID()).Scan(&variant, &distance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("variant index: nearest: %w", err)
	}
	return variant, min(max(distance, 0), 2), nil
}
