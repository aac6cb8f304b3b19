package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/callscribe/internal/correction"
	"github.com/MrWong99/callscribe/pkg/provider/embeddings"
	"github.com/MrWong99/callscribe/pkg/recording"
)

// Compile-time interface checks.
var (
	_ recording.Store               = (*RecordingStore)(nil)
	_ correction.PatternStore       = (*PatternStore)(nil)
	_ correction.SimilaritySearcher = (*VariantIndex)(nil)
)

// DB is the database interface used by the stores. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Options configures [NewStore].
type Options struct {
	// EmbeddingDimensions is the vector width of the variant_embeddings
	// table. Zero skips the vector schema, and [Store.Variants] is then
	// unusable.
	EmbeddingDimensions int

	// VectorIndex adds an HNSW index on the variant embeddings.
	VectorIndex bool
}

// Store owns a single [pgxpool.Pool] and hands out the table-specific
// stores that share it. All operations are safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	recordings *RecordingStore
	patterns   *PatternStore
}

// NewStore connects to the database at dsn and runs [Migrate]. When vectors
// are enabled, pgvector types are registered on every pooled connection.
func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// The vector extension must exist before its types can be registered,
	// so migrate over a plain connection first.
	conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	err = Migrate(ctx, conn, opts)
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	if opts.EmbeddingDimensions > 0 {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	return &Store{
		pool:       pool,
		recordings: NewRecordingStore(pool),
		patterns:   NewPatternStore(pool),
	}, nil
}

// Recordings returns the recording store.
func (s *Store) Recordings() *RecordingStore { return s.recordings }

// Patterns returns the learned pattern store.
func (s *Store) Patterns() *PatternStore { return s.patterns }

// Variants returns a vector index over provider's embeddings.
func (s *Store) Variants(provider embeddings.Provider) *VariantIndex {
	return NewVariantIndex(s.pool, provider)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }
