package memory

import (
	"fmt"
	"time"
)

// Record is the flat storage form of an observation, one column per field.
// Fields that do not apply to a memory type are left empty.
type Record struct {
	ID               string     `json:"id" db:"id"`
	MemoryType       MemoryType `json:"memory_type" db:"memory_type"`
	Node             string     `json:"node_content" db:"node_content"`
	Edge             string     `json:"edge_type,omitempty" db:"edge_type"`
	SourceEntityID   string     `json:"source_entity_id,omitempty" db:"source_entity_id"`
	SourceEntityType string     `json:"source_entity_type,omitempty" db:"source_entity_type"`
	TargetEntityID   string     `json:"target_entity_id,omitempty" db:"target_entity_id"`
	TargetEntityType string     `json:"target_entity_type,omitempty" db:"target_entity_type"`
	Channel          string     `json:"channel,omitempty" db:"channel"`
	ContentID        string     `json:"content_id,omitempty" db:"content_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	TimeOfDay        string     `json:"time_of_day,omitempty" db:"time_of_day"`
	Recurrence       int        `json:"recurrence" db:"recurrence"`
	Importance       float64    `json:"importance" db:"importance"`
	IdempotencyKey   string     `json:"idempotency_key" db:"idempotency_key"`
	Embedding        []float32  `json:"embedding,omitempty" db:"-"`
}

const personType = "person"

// ToRecord flattens obs.
func ToRecord(obs Observation) (Record, error) {
	if obs == nil {
		return Record{}, fmt.Errorf("%w: nil observation", ErrUnsupportedObservation)
	}
	m := obs.Metadata()
	r := Record{
		ID:             m.ID,
		MemoryType:     obs.MemoryType(),
		Node:           m.Node,
		CreatedAt:      m.CreatedAt,
		TimeOfDay:      m.TimeOfDay,
		Recurrence:     m.Recurrence,
		Importance:     m.Importance,
		IdempotencyKey: m.IdempotencyKey,
		Embedding:      m.Embedding,
	}

	switch o := obs.(type) {
	case *LongTermPeopleObservation:
		r.Edge = o.Edge
		r.TargetEntityID = o.TargetID
		r.TargetEntityType = personType
		r.Channel = o.PrimaryCommunicationChannel
	case *LongTermPreferencesObservation:
		r.Edge = o.Edge
		r.TargetEntityID = o.TargetID
		r.TargetEntityType = o.TargetType
	case *ShortTermContentObservation:
		r.SourceEntityID = o.SourceID
		r.SourceEntityType = "content_source"
		r.ContentID = o.ContentID
	case *ShortTermPreferencesObservation:
		r.SourceEntityID = o.SourceID
		r.SourceEntityType = o.SourceType
	default:
		return Record{}, fmt.Errorf("%w: %T", ErrUnsupportedObservation, obs)
	}
	return r, nil
}

// FromRecord rebuilds the observation stored in r.
func FromRecord(r Record) (Observation, error) {
	meta := Meta{
		ID:             r.ID,
		Node:           r.Node,
		Importance:     r.Importance,
		CreatedAt:      r.CreatedAt,
		IdempotencyKey: r.IdempotencyKey,
		TimeOfDay:      r.TimeOfDay,
		Recurrence:     r.Recurrence,
		Embedding:      r.Embedding,
	}

	switch r.MemoryType {
	case LongTermPeople:
		return &LongTermPeopleObservation{
			Meta:                        meta,
			TargetID:                    r.TargetEntityID,
			Edge:                        r.Edge,
			PrimaryCommunicationChannel: r.Channel,
		}, nil
	case LongTermPreferences:
		return &LongTermPreferencesObservation{
			Meta:       meta,
			TargetID:   r.TargetEntityID,
			TargetType: r.TargetEntityType,
			Edge:       r.Edge,
		}, nil
	case ShortTermContent:
		return &ShortTermContentObservation{
			Meta:      meta,
			SourceID:  r.SourceEntityID,
			ContentID: r.ContentID,
		}, nil
	case ShortTermPreferences:
		return &ShortTermPreferencesObservation{
			Meta:       meta,
			SourceID:   r.SourceEntityID,
			SourceType: r.SourceEntityType,
		}, nil
	default:
		return nil, fmt.Errorf("%w: memory type %q", ErrUnsupportedObservation, r.MemoryType)
	}
}
