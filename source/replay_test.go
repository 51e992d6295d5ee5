package source_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkim0508/Portable-Brain/core"
	"github.com/smkim0508/Portable-Brain/source"
)

const twoScenarios = `
name: first
start: 2025-01-15T09:00:00Z
snapshots:
  - package: com.android.launcher
    formatted_text: Home
  - package: com.slack
    offset: 90s
    formatted_text: Channels
    raw_tree:
      workspace_name: TechCorp
      is_dm: false
---
name: second
snapshots:
  - package: com.whatsapp
    timestamp: 2025-01-16T20:00:00Z
    formatted_text: Chats
`

func TestParseScenarios(t *testing.T) {
	scenarios, err := source.ParseScenarios(strings.NewReader(twoScenarios))
	require.NoError(t, err)
	require.Len(t, scenarios, 2)

	states := scenarios[0].States()
	require.Len(t, states, 2)
	start := time.Date(2025, time.January, 15, 9, 0, 0, 0, time.UTC)
	assert.True(t, start.Equal(states[0].Timestamp))
	assert.True(t, start.Add(90*time.Second).Equal(states[1].Timestamp))
	assert.Equal(t, "TechCorp", states[1].RawString("workspace_name", ""))
	assert.True(t, states[1].HasRaw("is_dm"))

	second := scenarios[1].States()
	assert.True(t, time.Date(2025, time.January, 16, 20, 0, 0, 0, time.UTC).Equal(second[0].Timestamp))
}

func TestParseScenarios_RejectsEmpty(t *testing.T) {
	_, err := source.ParseScenarios(strings.NewReader("name: empty\nsnapshots: []\n"))
	assert.Error(t, err)
}

func TestReplaySource_ServesThenGoesIdle(t *testing.T) {
	scenarios, err := source.ParseScenarios(strings.NewReader(twoScenarios))
	require.NoError(t, err)
	r := source.NewReplaySource(scenarios...)
	assert.Equal(t, 3, r.Remaining())

	ctx := context.Background()
	var pkgs []string
	for {
		st, err := r.Poll(ctx)
		require.NoError(t, err)
		if st == nil {
			break
		}
		pkgs = append(pkgs, st.Package)
	}
	assert.Equal(t, []string{"com.android.launcher", "com.slack", "com.whatsapp"}, pkgs)
	assert.Zero(t, r.Remaining())
}

func TestBuiltinScenarios(t *testing.T) {
	scenarios, err := source.BuiltinScenarios()
	require.NoError(t, err)
	require.Contains(t, scenarios, "instagram_close_contact")
	require.Contains(t, scenarios, "morning_routine")

	for name, s := range scenarios {
		states := s.States()
		for i := 1; i < len(states); i++ {
			assert.False(t, states[i].Timestamp.Before(states[i-1].Timestamp), "%s: snapshot %d out of order", name, i)
		}
	}
	contact := scenarios["instagram_close_contact"].States()
	assert.Equal(t, string(core.AppInstagram), contact[0].Package)
}
