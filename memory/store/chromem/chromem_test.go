package chromem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkim0508/Portable-Brain/memory"
	"github.com/smkim0508/Portable-Brain/memory/embedder/mock"
	"github.com/smkim0508/Portable-Brain/memory/store/chromem"
)

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	out, err := mock.New(16).Embed(context.Background(), []string{text})
	require.NoError(t, err)
	return out[0]
}

func people(t *testing.T, key, target string) *memory.LongTermPeopleObservation {
	node := "User frequently messages " + target + " on Instagram."
	return &memory.LongTermPeopleObservation{
		Meta: memory.Meta{
			ID:             "id-" + key,
			Node:           node,
			Importance:     0.8,
			CreatedAt:      time.Date(2025, time.January, 17, 19, 30, 0, 0, time.UTC),
			IdempotencyKey: key,
			TimeOfDay:      "work_hours",
			Recurrence:     4,
			Embedding:      embed(t, node),
		},
		TargetID:                    target,
		Edge:                        memory.EdgeCommunicatesWith,
		PrimaryCommunicationChannel: "Instagram",
	}
}

func TestStore_StoreAndQuery(t *testing.T) {
	ctx := context.Background()
	s := chromem.New(nil)

	sarah := people(t, "k-sarah", "sarah_smith")
	bob := people(t, "k-bob", "bob")
	require.NoError(t, s.Store(ctx, sarah))
	require.NoError(t, s.Store(ctx, bob))
	assert.Equal(t, 2, s.Count(memory.LongTermPeople))
	assert.Equal(t, 0, s.Count(memory.ShortTermContent))

	// limit larger than the collection is clamped
	got, err := s.Query(ctx, memory.LongTermPeople, sarah.Embedding, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	top, ok := got[0].(*memory.LongTermPeopleObservation)
	require.True(t, ok, "got %T", got[0])
	assert.Equal(t, "sarah_smith", top.TargetID)
	assert.Equal(t, sarah.Node, top.Node)
	assert.Equal(t, sarah.CreatedAt, top.CreatedAt)
	assert.Equal(t, 4, top.Recurrence)
	assert.Equal(t, 0.8, top.Importance)
	assert.Equal(t, "Instagram", top.PrimaryCommunicationChannel)
	assert.Equal(t, "work_hours", top.TimeOfDay)
}

func TestStore_SameIdempotencyKeyDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	s := chromem.New(nil)

	require.NoError(t, s.Store(ctx, people(t, "k1", "sarah_smith")))
	require.NoError(t, s.Store(ctx, people(t, "k1", "sarah_smith")))
	assert.Equal(t, 1, s.Count(memory.LongTermPeople))
}

func TestStore_EmptyCollection(t *testing.T) {
	got, err := chromem.New(nil).Query(context.Background(), memory.ShortTermPreferences, embed(t, "x"), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_RequiresEmbedding(t *testing.T) {
	obs := people(t, "k1", "sarah_smith")
	obs.Embedding = nil
	assert.Error(t, chromem.New(nil).Store(context.Background(), obs))
}
