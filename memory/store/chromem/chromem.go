package chromem

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/memory"
)

// Store wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database.
// Each memory type lives in its own collection; documents are keyed by
// idempotency key, so storing the same observation twice overwrites it.
type Store struct {
	db          *chromem.DB
	collections map[memory.MemoryType]*chromem.Collection
	mu          sync.RWMutex
	logger      *zap.Logger
}

// New creates an in-memory store.
func New(logger *zap.Logger) *Store {
	return newStore(chromem.NewDB(), logger)
}

// NewPersistent creates a store that writes its collections under path.
func NewPersistent(path string, logger *zap.Logger) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
	}
	return newStore(db, logger), nil
}

func newStore(db *chromem.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:          db,
		collections: make(map[memory.MemoryType]*chromem.Collection),
		logger:      logger.Named("chromem"),
	}
}

// collection returns the collection for a memory type, creating it on first use.
func (s *Store) collection(t memory.MemoryType) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[t]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[t]; exists {
		return col, nil
	}

	// No embedding func: embeddings are always provided by the caller.
	col, err := s.db.GetOrCreateCollection(string(t), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", t, err)
	}

	s.collections[t] = col
	return col, nil
}

// Store saves an observation with its embedding.
func (s *Store) Store(ctx context.Context, obs memory.Observation) error {
	rec, err := memory.ToRecord(obs)
	if err != nil {
		return err
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("observation %s has no embedding", rec.ID)
	}

	col, err := s.collection(rec.MemoryType)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        documentID(rec),
		Content:   rec.Node,
		Embedding: rec.Embedding,
		Metadata:  toMetadata(rec),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.logger.Debug("stored observation",
		zap.String("memory_type", string(rec.MemoryType)),
		zap.String("id", rec.ID))
	return nil
}

// Query returns up to limit observations of type t ordered by similarity to
// embedding, most similar first.
func (s *Store) Query(ctx context.Context, t memory.MemoryType, embedding []float32, limit int) ([]memory.Observation, error) {
	col, err := s.collection(t)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size
	limit = min(limit, col.Count())
	if limit <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]memory.Observation, 0, len(results))
	for i, result := range results {
		obs, err := fromResult(result)
		if err != nil {
			s.logger.Warn("skipping result", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// Count returns the number of stored observations of type t.
func (s *Store) Count(t memory.MemoryType) int {
	s.mu.RLock()
	col, ok := s.collections[t]
	s.mu.RUnlock()
	if !ok {
		// persisted collections are not cached until first use
		if col = s.db.GetCollection(string(t), nil); col == nil {
			return 0
		}
	}
	return col.Count()
}

func documentID(rec memory.Record) string {
	if rec.IdempotencyKey != "" {
		return rec.IdempotencyKey
	}
	return rec.ID
}

func toMetadata(rec memory.Record) map[string]string {
	md := map[string]string{
		"id":              rec.ID,
		"memory_type":     string(rec.MemoryType),
		"created_at":      rec.CreatedAt.Format(time.RFC3339Nano),
		"recurrence":      strconv.Itoa(rec.Recurrence),
		"importance":      strconv.FormatFloat(rec.Importance, 'g', -1, 64),
		"idempotency_key": rec.IdempotencyKey,
	}
	optional := map[string]string{
		"edge_type":          rec.Edge,
		"source_entity_id":   rec.SourceEntityID,
		"source_entity_type": rec.SourceEntityType,
		"target_entity_id":   rec.TargetEntityID,
		"target_entity_type": rec.TargetEntityType,
		"channel":            rec.Channel,
		"content_id":         rec.ContentID,
		"time_of_day":        rec.TimeOfDay,
	}
	for k, v := range optional {
		if v != "" {
			md[k] = v
		}
	}
	return md
}

func fromResult(r chromem.Result) (memory.Observation, error) {
	md := r.Metadata
	createdAt, err := time.Parse(time.RFC3339Nano, md["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	recurrence, err := strconv.Atoi(md["recurrence"])
	if err != nil {
		return nil, fmt.Errorf("parse recurrence: %w", err)
	}
	importance, err := strconv.ParseFloat(md["importance"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse importance: %w", err)
	}

	return memory.FromRecord(memory.Record{
		ID:               md["id"],
		MemoryType:       memory.MemoryType(md["memory_type"]),
		Node:             r.Content,
		Edge:             md["edge_type"],
		SourceEntityID:   md["source_entity_id"],
		SourceEntityType: md["source_entity_type"],
		TargetEntityID:   md["target_entity_id"],
		TargetEntityType: md["target_entity_type"],
		Channel:          md["channel"],
		ContentID:        md["content_id"],
		CreatedAt:        createdAt,
		TimeOfDay:        md["time_of_day"],
		Recurrence:       recurrence,
		Importance:       importance,
		IdempotencyKey:   md["idempotency_key"],
		Embedding:        r.Embedding,
	})
}
