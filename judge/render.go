package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/smkim0508/Portable-Brain/core"
)

// Rendering is the prose produced for a selected group.
type Rendering struct {
	// Node is the 1-2 sentence observation.
	Node string

	// Notes are optional renderer remarks appended to the reasoning trace.
	Notes string
}

// Renderer turns an already selected group into an observation node.
type Renderer interface {
	Render(ctx context.Context, g *Group) (Rendering, error)
}

// TemplateRenderer renders groups with fixed sentence templates.
type TemplateRenderer struct{}

// Render implements Renderer.
func (TemplateRenderer) Render(_ context.Context, g *Group) (Rendering, error) {
	return Rendering{Node: Draft(g)}, nil
}

// Draft writes the deterministic description of g.
func Draft(g *Group) string {
	platforms := joinAnd(g.Platforms())
	when := g.TimeOfDay.Label()
	over := pluralDays(g.Days)

	switch g.Dimension {
	case DimTarget:
		switch g.Entity.Type {
		case core.EntityContentSource:
			return fmt.Sprintf("User repeatedly likes posts from %s on %s, usually in the %s (%d likes %s). This indicates ongoing interest in %s's content.",
				g.Entity.ID, platforms, when, g.Count(), over, g.Entity.ID)
		case core.EntityApp:
			return fmt.Sprintf("User regularly posts in %s on %s during %s (%d messages %s). This is an active channel in the user's routine.",
				g.Entity.ID, platforms, when, g.Count(), over)
		default:
			meaning := fmt.Sprintf("%s is a frequent contact", g.Entity.ID)
			if len(g.Packages) >= 2 {
				meaning = fmt.Sprintf("%s is a close contact reached across platforms", g.Entity.ID)
			}
			return fmt.Sprintf("User frequently messages %s on %s, mostly in the %s (%d messages %s). This suggests %s.",
				g.Entity.ID, platforms, when, g.Count(), over, meaning)
		}
	case DimChain:
		steps := make([]string, len(g.Chain))
		for i, p := range g.Chain {
			steps[i] = core.PlatformName(p)
		}
		return fmt.Sprintf("User follows a %s routine of opening %s in sequence (%d times %s). This suggests a habitual workflow.",
			routineLabel(g.TimeOfDay), strings.Join(steps, " then "), g.Occurrences, over)
	case DimTime:
		return fmt.Sprintf("User is consistently active in the %s, mostly on %s (%d actions %s). This reflects a %s routine.",
			when, platforms, g.Count(), over, routineLabel(g.TimeOfDay))
	case DimKind:
		return fmt.Sprintf("User regularly %s, mostly in the %s (%d times %s). This is a recurring habit.",
			kindPhrase(g.Members[0].Kind(), core.PlatformName(g.Entity.ID)), when, g.Count(), over)
	default:
		panic(fmt.Sprintf("judge: unhandled dimension %q", g.Dimension))
	}
}

func kindPhrase(k core.ActionKind, platform string) string {
	switch k {
	case core.KindAppSwitch:
		return "opens " + platform
	case core.KindInstagramMessageSent, core.KindWhatsAppMessageSent, core.KindSlackMessageSent:
		return "sends messages on " + platform
	case core.KindInstagramPostLiked:
		return "likes posts on " + platform
	case core.KindUnknown:
		return "uses " + platform
	default:
		panic(fmt.Sprintf("judge: unhandled action kind %q", k))
	}
}

func routineLabel(b TimeBucket) string {
	if b == WorkHours {
		return "workday"
	}
	return string(b)
}

func pluralDays(n int) string {
	if n == 1 {
		return "within a single day"
	}
	return fmt.Sprintf("across %d days", n)
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return "the device"
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
