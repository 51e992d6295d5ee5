package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/smkim0508/Portable-Brain/core"
)

// DefaultImportance is assigned to every classified action.
const DefaultImportance = 1.0

const maxSummaryLen = 120

var (
	quotedRe   = regexp.MustCompile(`"([^"]*)"`)
	keyboardRe = regexp.MustCompile(`(?i)\*\*keyboard:\*\*\s*visible|\*\*focused element:\*\*\s*message input`)
	unlikeRe   = regexp.MustCompile(`(?i)button:\s*"unlike"`)
)

// identity keys whose presence in the raw tree marks an open conversation.
var conversationKeys = map[core.AndroidApp][]string{
	core.AppInstagram: {"target_username", "username"},
	core.AppWhatsApp:  {"recipient_name", "target_name"},
	core.AppSlack:     {"target_name", "channel_name", "workspace_name"},
}

// Inferrer maps state changes to actions using per-app rules.
// It performs no I/O and is safe for concurrent use.
type Inferrer struct {
	newID      func() string
	importance float64
}

// InferrerOption configures an Inferrer.
type InferrerOption func(*Inferrer)

// WithIDFunc overrides action ID generation.
func WithIDFunc(f func() string) InferrerOption {
	return func(i *Inferrer) {
		i.newID = f
	}
}

// WithImportance overrides the importance of classified actions.
func WithImportance(v float64) InferrerOption {
	return func(i *Inferrer) {
		i.importance = v
	}
}

// NewInferrer creates an inferrer.
func NewInferrer(opts ...InferrerOption) *Inferrer {
	i := &Inferrer{
		newID:      uuid.NewString,
		importance: DefaultImportance,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Infer returns exactly one action for change.
// Rules are tried in order: app switch, app-specific message or like, unknown.
func (i *Inferrer) Infer(change core.UIStateChange) core.Action {
	base := core.ActionBase{
		ID:               i.newID(),
		Timestamp:        change.Timestamp,
		SourceChangeType: change.Type,
		Source:           change.Source,
		Importance:       i.importance,
		Package:          change.After.Package,
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = change.After.Timestamp
	}

	if change.Type == core.ChangeAppSwitch {
		base.Description = fmt.Sprintf("Switched from %s to %s", change.Before.Package, change.After.Package)
		return core.AppSwitchAction{
			ActionBase:  base,
			SrcPackage:  change.Before.Package,
			SrcActivity: change.Before.Activity,
			DstPackage:  change.After.Package,
			DstActivity: change.After.Activity,
		}
	}

	if change.Type == core.ChangeChanged && core.IsMessagingApp(change.After.Package) {
		if a, ok := i.inferApp(base, change); ok {
			return a
		}
	}

	base.Importance = 0
	base.Description = change.Description
	if base.Description == "" {
		base.Description = fmt.Sprintf("Unclassified change in %s", change.After.Package)
	}
	return core.UnknownAction{ActionBase: base}
}

func (i *Inferrer) inferApp(base core.ActionBase, change core.UIStateChange) (core.Action, bool) {
	after := change.After
	added := newLines(change.Before.FormattedText, after.FormattedText)
	if len(added) == 0 && !after.HasRaw("post_liked") {
		return nil, false
	}

	app := core.AndroidApp(after.Package)
	if app == core.AppInstagram && postLiked(after, added) {
		target := after.RawString("target_username", core.UnknownUser)
		base.Description = fmt.Sprintf("Liked an Instagram post by %s", target)
		return core.InstagramPostLikedAction{
			ActionBase:      base,
			ActorUsername:   after.RawString("username", core.UnknownUser),
			TargetUsername:  target,
			PostDescription: after.RawOptionalString("post_description"),
		}, true
	}

	if len(added) == 0 || !(after.HasRaw(conversationKeys[app]...) || keyboardRe.MatchString(after.FormattedText)) {
		return nil, false
	}

	base.SourceChangeType = core.ChangeTextInput
	summary := after.RawOptionalString("message_summary")
	if summary == nil {
		summary = summarize(added)
	}

	switch app {
	case core.AppInstagram:
		target := after.RawString("target_username", core.UnknownUser)
		base.Description = fmt.Sprintf("Sent Instagram message to %s", target)
		return core.InstagramMessageSentAction{
			ActionBase:     base,
			ActorUsername:  after.RawString("username", core.UnknownUser),
			TargetUsername: target,
			MessageSummary: summary,
		}, true
	case core.AppWhatsApp:
		target := after.RawString("target_name", core.UnknownUser)
		base.Description = fmt.Sprintf("Sent WhatsApp message to %s", target)
		return core.WhatsAppMessageSentAction{
			ActionBase:     base,
			RecipientName:  after.RawString("recipient_name", core.UnknownUser),
			TargetName:     target,
			IsDM:           after.RawBool("is_dm", false),
			MessageSummary: summary,
		}, true
	case core.AppSlack:
		channel := after.RawString("channel_name", core.UnknownChannel)
		base.Description = fmt.Sprintf("Sent Slack message in #%s", channel)
		return core.SlackMessageSentAction{
			ActionBase:     base,
			WorkspaceName:  after.RawString("workspace_name", core.UnknownWorkspace),
			ChannelName:    channel,
			ThreadName:     after.RawOptionalString("thread_name"),
			TargetName:     after.RawString("target_name", core.UnknownUser),
			IsDM:           after.RawBool("is_dm", false),
			MessageSummary: summary,
		}, true
	}
	return nil, false
}

func postLiked(after core.UIState, added []string) bool {
	if after.RawBool("post_liked", false) {
		return true
	}
	for _, line := range added {
		if unlikeRe.MatchString(line) {
			return true
		}
	}
	return false
}

// newLines returns the non-empty lines of after that do not appear in before.
func newLines(before, after string) []string {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(before, "\n") {
		seen[strings.TrimSpace(line)] = struct{}{}
	}
	var added []string
	for _, line := range strings.Split(after, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; !ok {
			added = append(added, line)
		}
	}
	return added
}

// summarize takes the quoted text of the last added line.
func summarize(added []string) *string {
	for j := len(added) - 1; j >= 0; j-- {
		m := quotedRe.FindStringSubmatch(added[j])
		if m == nil || strings.TrimSpace(m[1]) == "" {
			continue
		}
		s := m[1]
		if r := []rune(s); len(r) > maxSummaryLen {
			s = string(r[:maxSummaryLen]) + "..."
		}
		return &s
	}
	return nil
}
