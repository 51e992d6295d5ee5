package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/smkim0508/Portable-Brain/config"
	"github.com/smkim0508/Portable-Brain/memory"
	"github.com/smkim0508/Portable-Brain/observability"
)

func newRecallCmd(c *cli) *cobra.Command {
	var (
		memType string
		query   string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Print stored observations of one memory type.",
		Long: `Recall reads observations back from memory. With --query it ranks the
vector store by similarity to the query text, otherwise it lists the most
recent rows of the structured store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseMemoryType(memType)
			if err != nil {
				return err
			}
			obs, err := runRecall(cmd.Context(), c.cfg, t, query, limit)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), obs)
		},
	}

	cmd.Flags().StringVarP(&memType, "type", "t", string(memory.LongTermPeople), "memory type to read")
	cmd.Flags().StringVarP(&query, "query", "q", "", "rank by similarity to this text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of observations")
	return cmd
}

func parseMemoryType(s string) (memory.MemoryType, error) {
	switch t := memory.MemoryType(s); t {
	case memory.LongTermPeople, memory.LongTermPreferences, memory.ShortTermContent, memory.ShortTermPreferences:
		return t, nil
	}
	return "", fmt.Errorf("unknown memory type %q", s)
}

func runRecall(ctx context.Context, cfg *config.Config, t memory.MemoryType, query string, limit int) ([]memory.Observation, error) {
	p, err := buildPipeline(ctx, cfg, observability.GetLogger())
	if err != nil {
		return nil, err
	}
	defer p.Close()

	if query == "" {
		if p.records == nil {
			return nil, fmt.Errorf("listing recent observations needs store.postgres.url")
		}
		return p.records.Recent(ctx, t, limit)
	}

	if p.vectors == nil {
		return nil, fmt.Errorf("similarity queries need store.chromem.enabled")
	}
	vecs, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &memory.EmbedError{Text: query, Err: err}
	}
	if len(vecs) != 1 {
		return nil, &memory.EmbedError{Text: query, Err: fmt.Errorf("got %d embeddings for 1 text", len(vecs))}
	}
	return p.vectors.Query(ctx, t, vecs[0], limit)
}

func printRecords(w io.Writer, obs []memory.Observation) error {
	recs := make([]memory.Record, 0, len(obs))
	for _, o := range obs {
		rec, err := memory.ToRecord(o)
		if err != nil {
			return err
		}
		rec.Embedding = nil
		recs = append(recs, rec)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}
