package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/memory"
)

// DBPool abstracts pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createStructuredMemory = `
CREATE TABLE IF NOT EXISTS structured_memory (
    id                 TEXT PRIMARY KEY,
    memory_type        TEXT NOT NULL,
    node_content       TEXT NOT NULL,
    edge_type          TEXT NOT NULL DEFAULT '',
    source_entity_id   TEXT NOT NULL DEFAULT '',
    source_entity_type TEXT NOT NULL DEFAULT '',
    target_entity_id   TEXT NOT NULL DEFAULT '',
    target_entity_type TEXT NOT NULL DEFAULT '',
    channel            TEXT NOT NULL DEFAULT '',
    content_id         TEXT NOT NULL DEFAULT '',
    time_of_day        TEXT NOT NULL DEFAULT '',
    recurrence         INTEGER NOT NULL DEFAULT 0,
    importance         DOUBLE PRECISION NOT NULL DEFAULT 0,
    idempotency_key    TEXT NOT NULL UNIQUE,
    created_at         TIMESTAMPTZ NOT NULL
);`

const createStructuredMemoryIndex = `
CREATE INDEX IF NOT EXISTS structured_memory_type_created_idx
    ON structured_memory (memory_type, created_at DESC);`

const createEmbeddingLogs = `
CREATE TABLE IF NOT EXISTS text_embedding_logs (
    memory_id  TEXT PRIMARY KEY REFERENCES structured_memory (id) ON DELETE CASCADE,
    input_text TEXT NOT NULL,
    embedding  REAL[] NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);`

const insertMemory = `
INSERT INTO structured_memory (
    id, memory_type, node_content, edge_type,
    source_entity_id, source_entity_type, target_entity_id, target_entity_type,
    channel, content_id, time_of_day, recurrence, importance, idempotency_key, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (idempotency_key) DO NOTHING;`

const insertEmbeddingLog = `
INSERT INTO text_embedding_logs (memory_id, input_text, embedding, dimensions, created_at)
VALUES ($1, $2, $3, $4, $5);`

const selectRecent = `
SELECT id, memory_type, node_content, edge_type,
       source_entity_id, source_entity_type, target_entity_id, target_entity_type,
       channel, content_id, time_of_day, recurrence, importance, idempotency_key, created_at
FROM structured_memory
WHERE memory_type = $1
ORDER BY created_at DESC
LIMIT $2;`

// Store persists observations as structured_memory rows, with the embedding
// of each node recorded in text_embedding_logs.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store on top of pool and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("postgres"),
	}, nil
}

// Connect opens a pgx pool for url and returns a store using it.
// The caller closes the returned pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createStructuredMemory, createStructuredMemoryIndex, createEmbeddingLogs} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Store inserts obs. A row with the same idempotency key is left untouched.
func (s *Store) Store(ctx context.Context, obs memory.Observation) error {
	rec, err := memory.ToRecord(obs)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	createdAt := rec.CreatedAt.UTC()
	tag, err := tx.Exec(ctx, insertMemory,
		rec.ID, string(rec.MemoryType), rec.Node, rec.Edge,
		rec.SourceEntityID, rec.SourceEntityType, rec.TargetEntityID, rec.TargetEntityType,
		rec.Channel, rec.ContentID, rec.TimeOfDay, rec.Recurrence, rec.Importance, rec.IdempotencyKey, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		s.log.Debug("observation already stored", zap.String("idempotency_key", rec.IdempotencyKey))
	} else if len(rec.Embedding) > 0 {
		if _, err := tx.Exec(ctx, insertEmbeddingLog, rec.ID, rec.Node, rec.Embedding, len(rec.Embedding), createdAt); err != nil {
			return fmt.Errorf("failed to insert embedding log: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Recent returns up to limit observations of type t, newest first.
// Embeddings are not loaded.
func (s *Store) Recent(ctx context.Context, t memory.MemoryType, limit int) ([]memory.Observation, error) {
	rows, err := s.pool.Query(ctx, selectRecent, string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []memory.Observation
	for rows.Next() {
		var rec memory.Record
		var memType string
		err := rows.Scan(
			&rec.ID, &memType, &rec.Node, &rec.Edge,
			&rec.SourceEntityID, &rec.SourceEntityType, &rec.TargetEntityID, &rec.TargetEntityType,
			&rec.Channel, &rec.ContentID, &rec.TimeOfDay, &rec.Recurrence, &rec.Importance, &rec.IdempotencyKey,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}
		rec.MemoryType = memory.MemoryType(memType)

		obs, err := memory.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
