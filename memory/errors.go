package memory

import (
	"errors"
	"fmt"
)

// ErrUnsupportedObservation is returned when a decision or record cannot be
// mapped to any observation type. It indicates a programming error.
var ErrUnsupportedObservation = errors.New("memory: unsupported observation")

// StoreError reports a failed store call for one observation.
type StoreError struct {
	MemoryType     MemoryType
	IdempotencyKey string
	Err            error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s observation %s: %v", e.MemoryType, e.IdempotencyKey, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// EmbedError reports a failed embedding call.
type EmbedError struct {
	Text string
	Err  error
}

func (e *EmbedError) Error() string {
	return fmt.Sprintf("embed %q: %v", truncate(e.Text, 50), e.Err)
}

func (e *EmbedError) Unwrap() error { return e.Err }

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
