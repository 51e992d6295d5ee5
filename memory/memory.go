package memory

import (
	"context"
	"time"
)

// MemoryType identifies which of the four observation kinds a DTO is.
type MemoryType string

const (
	LongTermPeople       MemoryType = "long_term_people"
	LongTermPreferences  MemoryType = "long_term_preferences"
	ShortTermContent     MemoryType = "short_term_content"
	ShortTermPreferences MemoryType = "short_term_preferences"
)

// EdgeCommunicatesWith links the user to a person they message.
const EdgeCommunicatesWith = "communicates_with"

// EdgePrefers links the user to an app, channel or routine they return to.
const EdgePrefers = "prefers"

// Meta holds the fields every observation carries.
type Meta struct {
	ID         string    `json:"id" yaml:"id"`
	Node       string    `json:"node" yaml:"node"`
	Importance float64   `json:"importance" yaml:"importance"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`

	// IdempotencyKey is stable for the same group and member set.
	IdempotencyKey string `json:"idempotency_key" yaml:"idempotency_key"`

	TimeOfDay  string `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`
	Recurrence int    `json:"recurrence" yaml:"recurrence"`

	// Embedding is set by the emitter before the observation is stored.
	Embedding []float32 `json:"embedding,omitempty" yaml:"-"`
}

// Observation is a memory ready to be stored.
// Implementations: *LongTermPeopleObservation, *LongTermPreferencesObservation,
// *ShortTermContentObservation, *ShortTermPreferencesObservation.
type Observation interface {
	MemoryType() MemoryType
	Metadata() *Meta
}

// LongTermPeopleObservation records a durable relationship with a person.
type LongTermPeopleObservation struct {
	Meta
	TargetID                    string `json:"target_id" yaml:"target_id"`
	Edge                        string `json:"edge" yaml:"edge"`
	PrimaryCommunicationChannel string `json:"primary_communication_channel" yaml:"primary_communication_channel"`
}

// LongTermPreferencesObservation records a durable preference for an app,
// channel, content source or routine.
type LongTermPreferencesObservation struct {
	Meta
	TargetID   string `json:"target_id" yaml:"target_id"`
	TargetType string `json:"target_type" yaml:"target_type"`
	Edge       string `json:"edge" yaml:"edge"`
}

// ShortTermContentObservation records recent engagement with a content source.
type ShortTermContentObservation struct {
	Meta
	SourceID  string `json:"source_id" yaml:"source_id"`
	ContentID string `json:"content_id" yaml:"content_id"`
}

// ShortTermPreferencesObservation records a recent, not yet durable, habit.
type ShortTermPreferencesObservation struct {
	Meta
	SourceID   string `json:"source_id" yaml:"source_id"`
	SourceType string `json:"source_type" yaml:"source_type"`
}

func (*LongTermPeopleObservation) MemoryType() MemoryType       { return LongTermPeople }
func (*LongTermPreferencesObservation) MemoryType() MemoryType  { return LongTermPreferences }
func (*ShortTermContentObservation) MemoryType() MemoryType     { return ShortTermContent }
func (*ShortTermPreferencesObservation) MemoryType() MemoryType { return ShortTermPreferences }

func (o *LongTermPeopleObservation) Metadata() *Meta       { return &o.Meta }
func (o *LongTermPreferencesObservation) Metadata() *Meta  { return &o.Meta }
func (o *ShortTermContentObservation) Metadata() *Meta     { return &o.Meta }
func (o *ShortTermPreferencesObservation) Metadata() *Meta { return &o.Meta }

// Store is the storage backend interface.
// Implementations: chromem.Store (vector, local), postgres.Store (structured).
type Store interface {
	// Store saves an observation. The embedding is already set.
	// Storing the same idempotency key twice must not create a duplicate.
	Store(ctx context.Context, obs Observation) error
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), genai (Gemini), cache (wraps another embedder).
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}
