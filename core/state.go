package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UIState is one denoised snapshot of the foreground screen.
// Snapshots are produced once per poll tick and never mutated afterwards.
type UIState struct {
	// FormattedText is the denoised accessibility text of the screen.
	FormattedText string `json:"formatted_text" yaml:"formatted_text"`

	// Package is the foreground application identifier (e.g. "com.slack").
	Package string `json:"package" yaml:"package"`

	// Activity is the activity or screen identifier within the package.
	Activity string `json:"activity" yaml:"activity"`

	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// RawTree holds structured key-value extractions such as usernames.
	// Optional; readers must tolerate nil.
	RawTree map[string]any `json:"raw_tree,omitempty" yaml:"raw_tree,omitempty"`

	// IsAppSwitch is set by producers that already know the snapshot follows an app switch.
	IsAppSwitch bool `json:"is_app_switch,omitempty" yaml:"is_app_switch,omitempty"`

	// AppSwitchInfo is a short "from -> to" note accompanying IsAppSwitch.
	AppSwitchInfo string `json:"app_switch_info,omitempty" yaml:"app_switch_info,omitempty"`
}

// InferenceText renders the snapshot as plain text for prompts and logs.
func (s UIState) InferenceText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", s.Timestamp.Format(time.RFC3339), s.Package)
	if s.Activity != "" {
		fmt.Fprintf(&b, " (%s)", s.Activity)
	}
	if s.IsAppSwitch && s.AppSwitchInfo != "" {
		fmt.Fprintf(&b, "\n%s", s.AppSwitchInfo)
	}
	if s.FormattedText != "" {
		fmt.Fprintf(&b, "\n%s", s.FormattedText)
	}
	return b.String()
}

// RawString returns RawTree[key] when it is a non-empty string, else fallback.
func (s UIState) RawString(key, fallback string) string {
	if s.RawTree == nil {
		return fallback
	}
	v, ok := s.RawTree[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// RawOptionalString is RawString without a fallback.
func (s UIState) RawOptionalString(key string) *string {
	v := s.RawString(key, "")
	if v == "" {
		return nil
	}
	return &v
}

// RawBool returns RawTree[key] when it is a bool, else fallback.
func (s UIState) RawBool(key string, fallback bool) bool {
	if s.RawTree == nil {
		return fallback
	}
	v, ok := s.RawTree[key].(bool)
	if !ok {
		return fallback
	}
	return v
}

// HasRaw reports whether any of keys carries a non-empty value in RawTree.
func (s UIState) HasRaw(keys ...string) bool {
	for _, k := range keys {
		switch v := s.RawTree[k].(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// StateChangeType classifies a transition between two snapshots.
type StateChangeType string

const (
	ChangeAppSwitch StateChangeType = "app_switch"
	ChangeNone      StateChangeType = "no_change"
	ChangeChanged   StateChangeType = "changed"

	// ChangeTextInput refines ChangeChanged when message content was detected
	// in a supported app. Only the action inferrer assigns it.
	ChangeTextInput StateChangeType = "text_input"
)

// ChangeSource records who triggered a detected change.
type ChangeSource string

const (
	SourceObservation ChangeSource = "observation"
	SourceCommand     ChangeSource = "command"
)

// UIStateChange is a detected transition between two snapshots.
type UIStateChange struct {
	Before      UIState
	After       UIState
	Type        StateChangeType
	Source      ChangeSource
	Timestamp   time.Time
	Description string
}

// SnapshotSource supplies UI snapshots to the tracker.
//
// Poll returns (nil, nil) when there is no new snapshot. Implementations must
// honour ctx; the tracker bounds every call by the poll interval.
type SnapshotSource interface {
	Poll(ctx context.Context) (*UIState, error)
}
