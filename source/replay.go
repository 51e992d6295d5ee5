package source

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smkim0508/Portable-Brain/core"
)

//go:embed scenarios/*.yaml
var builtin embed.FS

// Scenario is a recorded sequence of snapshots.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Start anchors snapshots that carry an offset instead of a timestamp.
	Start time.Time `yaml:"start"`

	Snapshots []Snapshot `yaml:"snapshots"`
}

// Snapshot is one recorded screen. Either Timestamp or Offset is set.
type Snapshot struct {
	core.UIState `yaml:",inline"`
	Offset       time.Duration `yaml:"offset,omitempty"`
}

// States returns the scenario's snapshots with absolute timestamps.
func (s Scenario) States() []core.UIState {
	out := make([]core.UIState, len(s.Snapshots))
	for i, snap := range s.Snapshots {
		st := snap.UIState
		if st.Timestamp.IsZero() {
			st.Timestamp = s.Start.Add(snap.Offset)
		}
		out[i] = st
	}
	return out
}

// ParseScenarios decodes one or more YAML documents from r.
func ParseScenarios(r io.Reader) ([]Scenario, error) {
	dec := yaml.NewDecoder(r)
	var out []Scenario
	for {
		var s Scenario
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode scenario %d: %w", len(out)+1, err)
		}
		if len(s.Snapshots) == 0 {
			return nil, fmt.Errorf("scenario %q has no snapshots", s.Name)
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadScenarios reads scenarios from a YAML file.
func LoadScenarios(file string) ([]Scenario, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	return ParseScenarios(bytes.NewReader(b))
}

// BuiltinScenarios returns the scenarios shipped with the binary, by name.
func BuiltinScenarios() (map[string]Scenario, error) {
	files, err := fs.Glob(builtin, "scenarios/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	out := make(map[string]Scenario)
	for _, f := range files {
		b, err := builtin.ReadFile(f)
		if err != nil {
			return nil, err
		}
		scenarios, err := ParseScenarios(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(f), err)
		}
		for _, s := range scenarios {
			out[s.Name] = s
		}
	}
	return out, nil
}

// ReplaySource serves recorded snapshots one per poll, then reports no new
// snapshot forever.
type ReplaySource struct {
	mu     sync.Mutex
	states []core.UIState
	next   int
}

// NewReplaySource queues the snapshots of each scenario in order.
func NewReplaySource(scenarios ...Scenario) *ReplaySource {
	r := &ReplaySource{}
	for _, s := range scenarios {
		r.states = append(r.states, s.States()...)
	}
	return r
}

// Poll implements core.SnapshotSource.
func (r *ReplaySource) Poll(ctx context.Context) (*core.UIState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.states) {
		return nil, nil
	}
	st := r.states[r.next]
	r.next++
	return &st, nil
}

// Remaining returns how many snapshots have not been served yet.
func (r *ReplaySource) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states) - r.next
}
