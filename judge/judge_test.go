package judge_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkim0508/Portable-Brain/core"
	"github.com/smkim0508/Portable-Brain/judge"
)

const (
	pkgLauncher = "com.android.launcher"
	pkgGmail    = "com.google.android.gm"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.January, day, hour, minute, 0, 0, time.UTC)
}

func base(id string, ts time.Time, pkg string, kind core.StateChangeType) core.ActionBase {
	return core.ActionBase{
		ID:               id,
		Timestamp:        ts,
		SourceChangeType: kind,
		Source:           core.SourceObservation,
		Importance:       1.0,
		Package:          pkg,
	}
}

func igDM(id string, ts time.Time, target string) core.Action {
	return core.InstagramMessageSentAction{
		ActionBase:     base(id, ts, string(core.AppInstagram), core.ChangeTextInput),
		ActorUsername:  "john_doe",
		TargetUsername: target,
	}
}

func slackMsg(id string, ts time.Time, target string) core.Action {
	return core.SlackMessageSentAction{
		ActionBase:    base(id, ts, string(core.AppSlack), core.ChangeTextInput),
		WorkspaceName: "TechCorp",
		ChannelName:   "engineering",
		TargetName:    target,
	}
}

func waMsg(id string, ts time.Time, target string) core.Action {
	return core.WhatsAppMessageSentAction{
		ActionBase:    base(id, ts, string(core.AppWhatsApp), core.ChangeTextInput),
		RecipientName: target,
		TargetName:    target,
		IsDM:          true,
	}
}

func appSwitch(id string, ts time.Time, src, dst string) core.Action {
	return core.AppSwitchAction{
		ActionBase: base(id, ts, dst, core.ChangeAppSwitch),
		SrcPackage: src,
		DstPackage: dst,
	}
}

func unknown(id string, ts time.Time) core.Action {
	return core.UnknownAction{ActionBase: base(id, ts, pkgGmail, core.ChangeChanged)}
}

func survivorIndex(ev judge.Evaluation, key string) int {
	for i, g := range ev.Survivors {
		if g.Key == key {
			return i
		}
	}
	return -1
}

func TestDecide_TwoMembersDisqualified(t *testing.T) {
	j := judge.New()
	actions := []core.Action{
		igDM("a1", at(15, 9, 0), "bob"),
		igDM("a2", at(16, 9, 0), "bob"),
	}

	d, err := j.Decide(context.Background(), actions)
	require.NoError(t, err)
	assert.True(t, d.Empty())
	assert.Nil(t, d.Group)
	assert.Contains(t, j.Evaluate(actions).Disqualified["target:bob"], "2 members < 3")
}

func TestDecide_ThreeMembersShortSpanDisqualified(t *testing.T) {
	j := judge.New()
	actions := []core.Action{
		igDM("a1", at(15, 9, 0), "bob"),
		igDM("a2", at(15, 9, 2), "bob"),
		igDM("a3", at(15, 9, 4), "bob"),
	}

	d, err := j.Decide(context.Background(), actions)
	require.NoError(t, err)
	assert.True(t, d.Empty())
	assert.Contains(t, j.Evaluate(actions).Disqualified["target:bob"], "span")
}

func TestDecide_ThreeMembersAcrossDaysAccepted(t *testing.T) {
	j := judge.New()
	actions := []core.Action{
		igDM("a1", at(15, 9, 0), "bob"),
		igDM("a2", at(15, 14, 0), "bob"),
		igDM("a3", at(16, 10, 0), "bob"),
	}

	d, err := j.Decide(context.Background(), actions)
	require.NoError(t, err)
	require.False(t, d.Empty())
	assert.Equal(t, "target:bob", d.Group.Key)
	assert.Equal(t, 3, d.Group.Count())
	assert.Equal(t, 2, d.Group.Days)
}

func TestDecide_ScenarioA_InstagramCloseContact(t *testing.T) {
	actions := []core.Action{
		igDM("a1", at(15, 9, 23), "sarah_smith"),
		igDM("a2", at(15, 14, 45), "sarah_smith"),
		igDM("a3", at(15, 20, 12), "sarah_smith"),
		igDM("a4", at(16, 10, 5), "sarah_smith"),
		igDM("a5", at(17, 19, 30), "sarah_smith"),
	}

	d, err := judge.New().Decide(context.Background(), actions)
	require.NoError(t, err)
	require.False(t, d.Empty())
	assert.Contains(t, d.ObservationNode, "sarah_smith")
	assert.Contains(t, d.ObservationNode, "Instagram")
	assert.Equal(t, core.Entity{ID: "sarah_smith", Type: core.EntityPerson}, d.Group.Entity)
	assert.Contains(t, d.Reasoning, "1. Received 5 actions")
}

func TestDecide_ScenarioB_MorningRoutine(t *testing.T) {
	var actions []core.Action
	for i, day := range []int{15, 16, 17} {
		actions = append(actions,
			appSwitch(fmt.Sprintf("d%d-1", i), at(day, 9, i), pkgLauncher, pkgGmail),
			appSwitch(fmt.Sprintf("d%d-2", i), at(day, 9, 5+i), pkgGmail, string(core.AppSlack)),
		)
	}
	j := judge.New()

	ev := j.Evaluate(actions)
	chainKey := "chain:" + pkgLauncher + "->" + pkgGmail + "->" + string(core.AppSlack)
	assert.NotContains(t, ev.Disqualified, chainKey)
	assert.NotContains(t, ev.Disqualified, "kind:app_switch")

	d, err := j.Decide(context.Background(), actions)
	require.NoError(t, err)
	require.False(t, d.Empty())
	assert.Equal(t, chainKey, d.Group.Key)
	assert.Equal(t, 3, d.Group.Occurrences)
	assert.Equal(t, 6, d.Group.Count())
	assert.Equal(t, judge.Morning, d.Group.TimeOfDay)
	assert.Contains(t, d.ObservationNode, "morning routine")
}

func TestDecide_ScenarioC_SingleShortSession(t *testing.T) {
	actions := []core.Action{
		appSwitch("a1", at(15, 15, 23), "com.android.chrome", pkgGmail),
		unknown("a2", at(15, 15, 25)),
		appSwitch("a3", at(15, 15, 27), pkgGmail, string(core.AppInstagram)),
	}

	d, err := judge.New().Decide(context.Background(), actions)
	require.NoError(t, err)
	assert.Equal(t, "", d.ObservationNode)
	assert.NotEmpty(t, d.Reasoning)
}

func TestDecide_ScenarioD_CrossPlatformTargetWins(t *testing.T) {
	actions := []core.Action{
		slackMsg("s1", at(15, 10, 30), "mike_johnson"),
		slackMsg("s2", at(15, 14, 20), "mike_johnson"),
		slackMsg("s3", at(15, 16, 45), "mike_johnson"),
		waMsg("w1", at(15, 18, 6), "mike_johnson"),
		waMsg("w2", at(16, 19, 0), "mike_johnson"),
		waMsg("w3", at(17, 18, 30), "mike_johnson"),
	}
	j := judge.New()

	ev := j.Evaluate(actions)
	require.NotEmpty(t, ev.Survivors)
	winner := ev.Winner()
	assert.Equal(t, "target:mike_johnson", winner.Key)
	assert.Equal(t, []string{string(core.AppSlack), string(core.AppWhatsApp)}, winner.Packages)
	for _, g := range ev.Survivors[1:] {
		assert.Greater(t, winner.Score, g.Score, "winner must outscore %s", g.Key)
	}

	d, err := j.Decide(context.Background(), actions)
	require.NoError(t, err)
	assert.Contains(t, d.ObservationNode, "mike_johnson")
	assert.Contains(t, d.ObservationNode, "Slack and WhatsApp")
	assert.Contains(t, d.Reasoning, "cross-platform")
}

func TestEvaluate_TieBreaks(t *testing.T) {
	t.Run("most recent timestamp", func(t *testing.T) {
		var actions []core.Action
		for i, day := range []int{15, 16, 17} {
			actions = append(actions,
				igDM(fmt.Sprintf("a%d", i), at(day, 12, 0), "alice"),
				igDM(fmt.Sprintf("b%d", i), at(day, 12, 1), "bob"),
			)
		}
		ev := judge.New().Evaluate(actions)
		alice, bob := survivorIndex(ev, "target:alice"), survivorIndex(ev, "target:bob")
		require.True(t, alice >= 0 && bob >= 0)
		assert.Equal(t, ev.Survivors[alice].Score, ev.Survivors[bob].Score)
		assert.Less(t, bob, alice, "later group ranks first")
	})

	t.Run("entity identifier", func(t *testing.T) {
		var actions []core.Action
		for i, day := range []int{15, 16, 17} {
			actions = append(actions,
				igDM(fmt.Sprintf("b%d", i), at(day, 12, 0), "bob"),
				igDM(fmt.Sprintf("a%d", i), at(day, 12, 0), "alice"),
			)
		}
		ev := judge.New().Evaluate(actions)
		alice, bob := survivorIndex(ev, "target:alice"), survivorIndex(ev, "target:bob")
		require.True(t, alice >= 0 && bob >= 0)
		assert.Less(t, alice, bob, "smaller entity id ranks first")
	})

	t.Run("member count", func(t *testing.T) {
		actions := []core.Action{
			igDM("b1", at(15, 9, 0), "bob"),
			igDM("a1", at(15, 10, 0), "alice"),
			igDM("a2", at(15, 10, 10), "alice"),
			igDM("a3", at(15, 10, 20), "alice"),
			igDM("a4", at(15, 10, 30), "alice"),
			igDM("a5", at(15, 10, 40), "alice"),
			igDM("b2", at(16, 13, 0), "bob"),
			igDM("b3", at(17, 18, 0), "bob"),
		}
		ev := judge.New().Evaluate(actions)
		alice, bob := survivorIndex(ev, "target:alice"), survivorIndex(ev, "target:bob")
		require.True(t, alice >= 0 && bob >= 0)
		assert.Equal(t, 7.0, ev.Survivors[alice].Score)
		assert.Equal(t, 7.0, ev.Survivors[bob].Score)
		assert.Less(t, alice, bob, "larger group ranks first even though bob is more recent")
	})
}

func TestEvaluate_AllUnknownDisqualified(t *testing.T) {
	actions := []core.Action{
		unknown("u1", at(15, 9, 0)),
		unknown("u2", at(16, 9, 0)),
		unknown("u3", at(17, 9, 0)),
	}
	ev := judge.New().Evaluate(actions)
	assert.Nil(t, ev.Winner())
	assert.Equal(t, "only unknown actions", ev.Disqualified["kind:unknown"])
}

func TestEvaluate_IsolatedSwitchesDisqualified(t *testing.T) {
	actions := []core.Action{
		appSwitch("s1", at(15, 9, 0), "a", "b"),
		appSwitch("s2", at(15, 13, 0), "c", "d"),
		appSwitch("s3", at(16, 9, 0), "e", "f"),
	}
	ev := judge.New().Evaluate(actions)
	assert.Nil(t, ev.Winner())
	assert.Contains(t, ev.Disqualified["kind:app_switch"], "isolated")
}

func TestEvaluate_ScoreComponents(t *testing.T) {
	actions := []core.Action{
		igDM("a1", at(15, 9, 0), "bob"),
		igDM("a2", at(16, 9, 0), "bob"),
		igDM("a3", at(17, 18, 0), "bob"),
	}
	ev := judge.New().Evaluate(actions)
	g := ev.Survivors[survivorIndex(ev, "target:bob")]
	// count 3 + multi-day 2 + importance 1 + specificity 1
	assert.Equal(t, 7.0, g.Score)
}

func TestWithLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 01:00 UTC is 09:00 at UTC+8.
	actions := []core.Action{
		igDM("a1", at(15, 1, 0), "bob"),
		igDM("a2", at(16, 1, 0), "bob"),
		igDM("a3", at(17, 1, 5), "bob"),
	}
	d, err := judge.New(judge.WithLocation(loc)).Decide(context.Background(), actions)
	require.NoError(t, err)
	assert.Equal(t, judge.Morning, d.Group.TimeOfDay)

	d, err = judge.New().Decide(context.Background(), actions)
	require.NoError(t, err)
	assert.Equal(t, judge.Night, d.Group.TimeOfDay)
}

func TestBucketOf(t *testing.T) {
	tests := []struct {
		hour int
		want judge.TimeBucket
	}{
		{5, judge.Night}, {6, judge.Morning}, {9, judge.Morning}, {10, judge.WorkHours},
		{16, judge.WorkHours}, {17, judge.Evening}, {21, judge.Evening}, {22, judge.Night}, {0, judge.Night},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, judge.BucketOf(at(15, tt.hour, 30)), "hour %d", tt.hour)
	}
}

func TestEvaluate_ClusterWrapsPastMidnight(t *testing.T) {
	actions := []core.Action{
		igDM("n1", at(15, 23, 50), "bob"),
		igDM("n2", at(17, 0, 5), "bob"),
		igDM("n3", at(17, 23, 55), "bob"),
	}
	ev := judge.New().Evaluate(actions)

	i := survivorIndex(ev, "target:bob")
	require.GreaterOrEqual(t, i, 0, "steps: %v", ev.Steps)
	assert.InDelta(t, 9.0, ev.Survivors[i].Score, 1e-9)
	assert.Contains(t, strings.Join(ev.Steps, "\n"), "clustered 2")
}

func TestEvaluate_SpreadAcrossDayNotClustered(t *testing.T) {
	actions := []core.Action{
		igDM("n1", at(15, 23, 50), "bob"),
		igDM("n2", at(16, 12, 0), "bob"),
		igDM("n3", at(17, 23, 55), "bob"),
	}
	ev := judge.New().Evaluate(actions)

	i := survivorIndex(ev, "target:bob")
	require.GreaterOrEqual(t, i, 0, "steps: %v", ev.Steps)
	assert.InDelta(t, 7.0, ev.Survivors[i].Score, 1e-9)
}
