package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/core"
	"github.com/smkim0508/Portable-Brain/judge"
)

// Emitter turns judge decisions into observations, embeds them and stores them.
// It never retries: failures are returned to the caller, which keeps the
// window uncommitted and tries again on a later flush.
type Emitter struct {
	store    Store
	embedder Embedder
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithIDFunc overrides the observation id generator.
func WithIDFunc(f func() string) EmitterOption {
	return func(e *Emitter) {
		e.newID = f
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		e.now = now
	}
}

// NewEmitter creates an emitter writing to store.
func NewEmitter(store Store, embedder Embedder, logger *zap.Logger, opts ...EmitterOption) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		store:    store,
		embedder: embedder,
		logger:   logger.Named("emitter"),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit builds the observation for d, embeds its node and stores it.
// An embedding failure is returned as *EmbedError, a store failure as *StoreError.
func (e *Emitter) Emit(ctx context.Context, d judge.Decision) (Observation, error) {
	obs, err := e.Build(d)
	if err != nil {
		return nil, err
	}
	meta := obs.Metadata()

	vectors, err := e.embedder.Embed(ctx, []string{meta.Node})
	if err == nil && len(vectors) != 1 {
		err = fmt.Errorf("expected 1 vector, got %d", len(vectors))
	}
	if err != nil {
		e.logger.Error("failed to embed observation",
			zap.String("memory_type", string(obs.MemoryType())),
			zap.Error(err))
		return nil, &EmbedError{Text: meta.Node, Err: err}
	}
	meta.Embedding = vectors[0]

	if err := e.store.Store(ctx, obs); err != nil {
		e.logger.Error("failed to store observation",
			zap.String("memory_type", string(obs.MemoryType())),
			zap.String("idempotency_key", meta.IdempotencyKey),
			zap.Error(err))
		return nil, &StoreError{MemoryType: obs.MemoryType(), IdempotencyKey: meta.IdempotencyKey, Err: err}
	}

	e.logger.Info("stored observation",
		zap.String("memory_type", string(obs.MemoryType())),
		zap.String("id", meta.ID),
		zap.String("group", d.Group.Key),
		zap.Int("recurrence", meta.Recurrence))
	return obs, nil
}

// Build maps d to its observation type without embedding or storing it.
func (e *Emitter) Build(d judge.Decision) (Observation, error) {
	if d.Empty() || d.Group == nil {
		return nil, fmt.Errorf("%w: decision has no pattern", ErrUnsupportedObservation)
	}
	g := d.Group
	meta := Meta{
		ID:             e.newID(),
		Node:           d.ObservationNode,
		Importance:     clamp(g.MeanImportance()),
		CreatedAt:      e.now(),
		IdempotencyKey: IdempotencyKey(g),
		TimeOfDay:      string(g.TimeOfDay),
		Recurrence:     g.Count(),
	}

	switch g.Entity.Type {
	case core.EntityPerson:
		return &LongTermPeopleObservation{
			Meta:                        meta,
			TargetID:                    g.Entity.ID,
			Edge:                        EdgeCommunicatesWith,
			PrimaryCommunicationChannel: primaryChannel(g),
		}, nil
	case core.EntityApp:
		if g.MultiDay() {
			return longTermPreference(meta, g), nil
		}
		return shortTermPreference(meta, g), nil
	case core.EntityContentSource:
		if g.MultiDay() {
			return longTermPreference(meta, g), nil
		}
		return &ShortTermContentObservation{
			Meta:      meta,
			SourceID:  g.Entity.ID,
			ContentID: g.Members[len(g.Members)-1].Base().ID,
		}, nil
	case core.EntityRoutine:
		return shortTermPreference(meta, g), nil
	default:
		return nil, fmt.Errorf("%w: entity type %q", ErrUnsupportedObservation, g.Entity.Type)
	}
}

// IdempotencyKey returns a stable key for g: the same group key and member
// set always yield the same key.
func IdempotencyKey(g *judge.Group) string {
	ids := g.MemberIDs()
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(g.Key))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func longTermPreference(meta Meta, g *judge.Group) *LongTermPreferencesObservation {
	return &LongTermPreferencesObservation{
		Meta:       meta,
		TargetID:   g.Entity.ID,
		TargetType: string(g.Entity.Type),
		Edge:       EdgePrefers,
	}
}

func shortTermPreference(meta Meta, g *judge.Group) *ShortTermPreferencesObservation {
	return &ShortTermPreferencesObservation{
		Meta:       meta,
		SourceID:   g.Entity.ID,
		SourceType: string(g.Entity.Type),
	}
}

// primaryChannel is the platform most members were sent on.
// Ties go to the alphabetically first platform.
func primaryChannel(g *judge.Group) string {
	counts := make(map[string]int)
	for _, a := range g.Members {
		counts[core.PlatformName(a.Base().Package)]++
	}
	best, n := "", 0
	for p, c := range counts {
		if c > n || (c == n && p < best) {
			best, n = p, c
		}
	}
	return best
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
