package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/engine"
	"github.com/smkim0508/Portable-Brain/memory"
	"github.com/smkim0508/Portable-Brain/observability"
	"github.com/smkim0508/Portable-Brain/source"
)

// replayPoll is the engine poll interval while replaying; snapshots are served
// as fast as the loop asks for them.
const replayPoll = time.Millisecond

func newReplayCmd(c *cli) *cobra.Command {
	var (
		scenario string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded scenario through the pipeline and print the observation.",
		Long: `Replay feeds recorded UI snapshots through change detection, action
inference and the judge, then stores the resulting observation.

--scenario takes a built-in scenario name or a path to a YAML file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scenario == "" {
				scenario = c.cfg.Source.ScenarioFile
			}
			if scenario == "" {
				scenario = c.cfg.Source.Scenario
			}
			scenarios, err := resolveScenario(scenario)
			if err != nil {
				return err
			}

			logger := observability.GetLogger()
			res, err := runReplay(cmd.Context(), c, logger, scenarios)
			if err != nil {
				return err
			}
			return printFlush(cmd.OutOrStdout(), res, asJSON)
		},
	}

	cmd.Flags().StringVarP(&scenario, "scenario", "s", "", "built-in scenario name or YAML file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// resolveScenario prefers a built-in name and falls back to a file path.
func resolveScenario(name string) ([]source.Scenario, error) {
	builtin, err := source.BuiltinScenarios()
	if err != nil {
		return nil, fmt.Errorf("load built-in scenarios: %w", err)
	}
	if s, ok := builtin[name]; ok {
		return []source.Scenario{s}, nil
	}
	if _, err := os.Stat(name); err == nil {
		return source.LoadScenarios(name)
	}

	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown scenario %q (built-in: %s)", name, strings.Join(names, ", "))
}

func runReplay(ctx context.Context, c *cli, logger *zap.Logger, scenarios []source.Scenario) (engine.FlushResult, error) {
	p, err := buildPipeline(ctx, c.cfg, logger)
	if err != nil {
		return engine.FlushResult{}, err
	}
	defer p.Close()

	src := source.NewReplaySource(scenarios...)
	opts := append(p.engineOptions(c.cfg, logger), engine.WithBackoff(0, 0))
	eng := engine.New(src, p.emitter, opts...)

	if err := eng.Start(ctx, replayPoll); err != nil {
		return engine.FlushResult{}, err
	}

	ticker := time.NewTicker(replayPoll)
	defer ticker.Stop()
	for src.Remaining() > 0 {
		select {
		case <-ctx.Done():
			_ = eng.Stop(context.Background())
			return engine.FlushResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
	if err := eng.Stop(ctx); err != nil {
		return engine.FlushResult{}, err
	}

	logger.Info("replay finished", zap.Int("actions", eng.Window().Len()))
	return eng.Flush(ctx)
}

type flushView struct {
	Pattern     bool           `json:"pattern"`
	Node        string         `json:"observation_node,omitempty"`
	Reasoning   string         `json:"reasoning"`
	Committed   int            `json:"committed"`
	Observation *memory.Record `json:"observation,omitempty"`
}

func printFlush(w io.Writer, res engine.FlushResult, asJSON bool) error {
	view := flushView{
		Pattern:   !res.Decision.Empty(),
		Node:      res.Decision.ObservationNode,
		Reasoning: res.Decision.Reasoning,
		Committed: res.Committed,
	}
	if res.Observation != nil {
		rec, err := memory.ToRecord(res.Observation)
		if err != nil {
			return err
		}
		rec.Embedding = nil
		view.Observation = &rec
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintln(w, view.Reasoning)
	if !view.Pattern {
		fmt.Fprintln(w, "\nNo observation stored.")
		return nil
	}
	fmt.Fprintf(w, "\nObservation: %s\n", view.Node)
	if view.Observation != nil {
		fmt.Fprintf(w, "Memory type: %s (recurrence %d, importance %.2f)\n",
			view.Observation.MemoryType, view.Observation.Recurrence, view.Observation.Importance)
	}
	return nil
}
