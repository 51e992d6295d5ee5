package judge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smkim0508/Portable-Brain/core"
)

// Dimension is the attribute a candidate group was partitioned on.
type Dimension string

const (
	DimTarget Dimension = "target"
	DimKind   Dimension = "kind"
	DimTime   Dimension = "time"
	DimChain  Dimension = "chain"
)

// TimeBucket is a coarse time-of-day slot.
type TimeBucket string

const (
	Morning   TimeBucket = "morning"
	WorkHours TimeBucket = "work_hours"
	Evening   TimeBucket = "evening"
	Night     TimeBucket = "night"
)

// BucketOf returns the time-of-day bucket for t in its own location.
// morning 06-10, work_hours 10-17, evening 17-22, night 22-06.
func BucketOf(t time.Time) TimeBucket {
	switch h := t.Hour(); {
	case h >= 6 && h < 10:
		return Morning
	case h >= 10 && h < 17:
		return WorkHours
	case h >= 17 && h < 22:
		return Evening
	default:
		return Night
	}
}

// localTime converts t to loc; a nil loc keeps the timestamp's own zone.
func localTime(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return t.In(loc)
}

// Label returns the bucket in prose form.
func (b TimeBucket) Label() string {
	if b == WorkHours {
		return "work hours"
	}
	return string(b)
}

// Group is a candidate pattern: a set of actions sharing one dimension.
type Group struct {
	Key       string
	Dimension Dimension
	Entity    core.Entity

	// Members are oldest-first.
	Members []core.Action

	// Occurrences counts chain repetitions; for other dimensions it equals len(Members).
	Occurrences int

	// Chain holds the package sequence of a chain group.
	Chain []string

	// Derived by the judge before scoring.
	Packages  []string
	TimeOfDay TimeBucket
	Span      time.Duration
	Days      int
	Score     float64
}

// Count returns the number of member actions.
func (g *Group) Count() int { return len(g.Members) }

// Latest returns the timestamp of the most recent member.
func (g *Group) Latest() time.Time {
	if len(g.Members) == 0 {
		return time.Time{}
	}
	return g.Members[len(g.Members)-1].Base().Timestamp
}

// MultiDay reports whether the members fall on at least two calendar days.
func (g *Group) MultiDay() bool { return g.Days >= 2 }

// MemberIDs returns the member action IDs in member order.
func (g *Group) MemberIDs() []string {
	ids := make([]string, len(g.Members))
	for i, a := range g.Members {
		ids[i] = a.Base().ID
	}
	return ids
}

// Platforms returns display names of the member packages.
func (g *Group) Platforms() []string {
	names := make([]string, 0, len(g.Packages))
	for _, p := range g.Packages {
		names = append(names, core.PlatformName(p))
	}
	return names
}

// MeanImportance averages member importances.
func (g *Group) MeanImportance() float64 {
	if len(g.Members) == 0 {
		return 0
	}
	var sum float64
	for _, a := range g.Members {
		sum += a.Base().Importance
	}
	return sum / float64(len(g.Members))
}

// partition splits actions (oldest-first) into candidate groups along every
// dimension. Groups are returned in key order.
func partition(actions []core.Action, loc *time.Location, chainGap time.Duration) []*Group {
	groups := make(map[string]*Group)
	add := func(key string, dim Dimension, a core.Action) *Group {
		g, ok := groups[key]
		if !ok {
			g = &Group{Key: key, Dimension: dim}
			groups[key] = g
		}
		g.Members = append(g.Members, a)
		return g
	}

	for _, a := range actions {
		add("kind:"+string(a.Kind()), DimKind, a)

		if _, unknown := a.(core.UnknownAction); unknown {
			continue
		}
		if e, ok := core.TargetOf(a); ok {
			add("target:"+e.ID, DimTarget, a)
		}
		add("time:"+string(BucketOf(localTime(a.Base().Timestamp, loc))), DimTime, a)
	}

	for _, run := range chainRuns(actions, chainGap) {
		sig := chainSignature(run)
		var g *Group
		for _, sw := range run {
			g = add("chain:"+sig, DimChain, sw)
		}
		g.Occurrences++
		if g.Chain == nil {
			g.Chain = chainPackages(run)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*Group, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		if g.Dimension != DimChain {
			g.Occurrences = len(g.Members)
		}
		g.Entity = entityOf(g)
		out = append(out, g)
	}
	return out
}

// chainRuns finds maximal runs of linked app switches: each switch lands where
// the next one starts and follows it within gap. Single switches are not runs.
func chainRuns(actions []core.Action, gap time.Duration) [][]core.AppSwitchAction {
	var runs [][]core.AppSwitchAction
	var cur []core.AppSwitchAction
	flush := func() {
		if len(cur) >= 2 {
			runs = append(runs, cur)
		}
		cur = nil
	}
	for _, a := range actions {
		sw, ok := a.(core.AppSwitchAction)
		if !ok {
			continue
		}
		if n := len(cur); n > 0 {
			prev := cur[n-1]
			if prev.DstPackage != sw.SrcPackage || sw.Timestamp.Sub(prev.Timestamp) > gap {
				flush()
			}
		}
		cur = append(cur, sw)
	}
	flush()
	return runs
}

func chainPackages(run []core.AppSwitchAction) []string {
	pkgs := []string{run[0].SrcPackage}
	for _, sw := range run {
		pkgs = append(pkgs, sw.DstPackage)
	}
	return pkgs
}

func chainSignature(run []core.AppSwitchAction) string {
	return strings.Join(chainPackages(run), "->")
}

func entityOf(g *Group) core.Entity {
	switch g.Dimension {
	case DimTarget:
		id := strings.TrimPrefix(g.Key, "target:")
		typ := core.EntityContentSource
		for _, a := range g.Members {
			e, _ := core.TargetOf(a)
			if e.Type == core.EntityPerson || e.Type == core.EntityApp {
				typ = e.Type
				break
			}
		}
		return core.Entity{ID: id, Type: typ}
	case DimTime:
		return core.Entity{ID: strings.TrimPrefix(g.Key, "time:"), Type: core.EntityRoutine}
	case DimChain:
		return core.Entity{ID: strings.TrimPrefix(g.Key, "chain:"), Type: core.EntityApp}
	case DimKind:
		typ := core.EntityApp
		if g.Members[0].Kind() == core.KindInstagramPostLiked {
			typ = core.EntityContentSource
		}
		return core.Entity{ID: dominantPackage(g.Members), Type: typ}
	default:
		panic(fmt.Sprintf("judge: unhandled dimension %q", g.Dimension))
	}
}

// dominantPackage returns the most frequent destination package, using the
// lexicographically smallest on ties.
func dominantPackage(actions []core.Action) string {
	counts := make(map[string]int)
	for _, a := range actions {
		pkg := a.Base().Package
		if sw, ok := a.(core.AppSwitchAction); ok {
			pkg = sw.DstPackage
		}
		counts[pkg]++
	}
	var best string
	for pkg, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && pkg < best) {
			best = pkg
		}
	}
	return best
}

// describe fills the derived fields of g.
func describe(g *Group, loc *time.Location) {
	pkgs := make(map[string]struct{})
	days := make(map[string]struct{})
	buckets := make(map[TimeBucket]int)
	for _, a := range g.Members {
		b := a.Base()
		if b.Package != "" {
			pkgs[b.Package] = struct{}{}
		}
		t := localTime(b.Timestamp, loc)
		days[t.Format("2006-01-02")] = struct{}{}
		buckets[BucketOf(t)]++
	}

	g.Packages = g.Packages[:0]
	for p := range pkgs {
		g.Packages = append(g.Packages, p)
	}
	sort.Strings(g.Packages)

	g.Days = len(days)
	if n := len(g.Members); n > 0 {
		g.Span = g.Members[n-1].Base().Timestamp.Sub(g.Members[0].Base().Timestamp)
	}

	order := []TimeBucket{Morning, WorkHours, Evening, Night}
	g.TimeOfDay = order[0]
	for _, b := range order {
		if buckets[b] > buckets[g.TimeOfDay] {
			g.TimeOfDay = b
		}
	}
}
