package core

import (
	"fmt"
	"time"
)

// ActionKind discriminates the Action variants.
type ActionKind string

const (
	KindAppSwitch            ActionKind = "app_switch"
	KindInstagramMessageSent ActionKind = "instagram_message_sent"
	KindInstagramPostLiked   ActionKind = "instagram_post_liked"
	KindWhatsAppMessageSent  ActionKind = "whatsapp_message_sent"
	KindSlackMessageSent     ActionKind = "slack_message_sent"
	KindUnknown              ActionKind = "unknown"
)

// Action is a discrete user action inferred from a UI state change.
//
// The set of variants is closed: AppSwitchAction, InstagramMessageSentAction,
// InstagramPostLikedAction, WhatsAppMessageSentAction, SlackMessageSentAction
// and UnknownAction. Code switching over actions should handle every variant
// and panic in the default branch. Each variant implements the unexported
// isAction itself, so embedding ActionBase alone does not produce an Action.
type Action interface {
	Kind() ActionKind
	Base() ActionBase
	isAction()
}

// ActionBase holds the fields shared by every action.
type ActionBase struct {
	ID               string          `json:"id" yaml:"id"`
	Timestamp        time.Time       `json:"timestamp" yaml:"timestamp"`
	SourceChangeType StateChangeType `json:"source_change_type" yaml:"source_change_type"`
	Source           ChangeSource    `json:"source" yaml:"source"`
	Importance       float64         `json:"importance" yaml:"importance"`
	Description      string          `json:"description" yaml:"description"`
	Package          string          `json:"package" yaml:"package"`
}

// Base returns the shared fields.
func (b ActionBase) Base() ActionBase { return b }

// AppSwitchAction records a switch between two foreground apps.
type AppSwitchAction struct {
	ActionBase
	SrcPackage  string `json:"src_package"`
	SrcActivity string `json:"src_activity"`
	DstPackage  string `json:"dst_package"`
	DstActivity string `json:"dst_activity"`
}

func (AppSwitchAction) Kind() ActionKind { return KindAppSwitch }
func (AppSwitchAction) isAction()        {}

// InstagramMessageSentAction records a direct message sent on Instagram.
type InstagramMessageSentAction struct {
	ActionBase
	ActorUsername  string  `json:"actor_username"`
	TargetUsername string  `json:"target_username"`
	MessageSummary *string `json:"message_summary,omitempty"`
}

func (InstagramMessageSentAction) Kind() ActionKind { return KindInstagramMessageSent }
func (InstagramMessageSentAction) isAction()        {}

// InstagramPostLikedAction records a liked Instagram post.
type InstagramPostLikedAction struct {
	ActionBase
	ActorUsername   string  `json:"actor_username"`
	TargetUsername  string  `json:"target_username"`
	PostDescription *string `json:"post_description,omitempty"`
}

func (InstagramPostLikedAction) Kind() ActionKind { return KindInstagramPostLiked }
func (InstagramPostLikedAction) isAction()        {}

// WhatsAppMessageSentAction records a message sent on WhatsApp.
type WhatsAppMessageSentAction struct {
	ActionBase
	RecipientName  string  `json:"recipient_name"`
	TargetName     string  `json:"target_name"`
	IsDM           bool    `json:"is_dm"`
	MessageSummary *string `json:"message_summary,omitempty"`
}

func (WhatsAppMessageSentAction) Kind() ActionKind { return KindWhatsAppMessageSent }
func (WhatsAppMessageSentAction) isAction()        {}

// SlackMessageSentAction records a message sent on Slack.
type SlackMessageSentAction struct {
	ActionBase
	WorkspaceName  string  `json:"workspace_name"`
	ChannelName    string  `json:"channel_name"`
	ThreadName     *string `json:"thread_name,omitempty"`
	TargetName     string  `json:"target_name"`
	IsDM           bool    `json:"is_dm"`
	MessageSummary *string `json:"message_summary,omitempty"`
}

func (SlackMessageSentAction) Kind() ActionKind { return KindSlackMessageSent }
func (SlackMessageSentAction) isAction()        {}

// UnknownAction is any change no rule could classify.
// Its importance is always zero, whatever the stored field says.
type UnknownAction struct {
	ActionBase
}

func (UnknownAction) Kind() ActionKind { return KindUnknown }
func (UnknownAction) isAction()        {}

// Base returns the shared fields with Importance forced to zero.
func (a UnknownAction) Base() ActionBase {
	b := a.ActionBase
	b.Importance = 0
	return b
}

// Fallback values used when a field cannot be extracted from a snapshot.
const (
	UnknownUser      = "unknown user"
	UnknownWorkspace = "unknown workspace"
	UnknownChannel   = "unknown channel"
)

// EntityType classifies what a pattern is about.
type EntityType string

const (
	EntityPerson        EntityType = "person"
	EntityApp           EntityType = "app"
	EntityContentSource EntityType = "content_source"
	EntityRoutine       EntityType = "routine"
)

// Entity identifies the subject of an action or pattern.
type Entity struct {
	ID   string
	Type EntityType
}

// TargetOf returns the entity an action is directed at.
// App switches and unknown actions have no target.
func TargetOf(a Action) (Entity, bool) {
	switch v := a.(type) {
	case AppSwitchAction, UnknownAction:
		return Entity{}, false
	case InstagramMessageSentAction:
		return knownPerson(v.TargetUsername)
	case InstagramPostLikedAction:
		if v.TargetUsername == "" || v.TargetUsername == UnknownUser {
			return Entity{}, false
		}
		return Entity{ID: v.TargetUsername, Type: EntityContentSource}, true
	case WhatsAppMessageSentAction:
		if e, ok := knownPerson(v.TargetName); ok {
			return e, true
		}
		return knownPerson(v.RecipientName)
	case SlackMessageSentAction:
		if e, ok := knownPerson(v.TargetName); ok {
			return e, true
		}
		if v.ChannelName == "" || v.ChannelName == UnknownChannel {
			return Entity{}, false
		}
		return Entity{ID: "#" + v.ChannelName, Type: EntityApp}, true
	default:
		panic(fmt.Sprintf("core: unhandled action type %T", a))
	}
}

func knownPerson(name string) (Entity, bool) {
	if name == "" || name == UnknownUser {
		return Entity{}, false
	}
	return Entity{ID: name, Type: EntityPerson}, true
}
