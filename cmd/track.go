package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/config"
	"github.com/smkim0508/Portable-Brain/engine"
	"github.com/smkim0508/Portable-Brain/observability"
	"github.com/smkim0508/Portable-Brain/source"
)

func newTrackCmd(c *cli) *cobra.Command {
	var (
		url   string
		token string
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Track a live device bridge until interrupted.",
		Long: `Track connects to the device bridge websocket, records inferred actions
and flushes the observation window into memory every tracker.flush_interval.
A final flush runs on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = c.cfg.Source.URL
			}
			if url == "" {
				return fmt.Errorf("a bridge url is required (--url or source.url)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTrack(ctx, c.cfg, observability.GetLogger(), url, token)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "device bridge websocket url")
	cmd.Flags().StringVar(&token, "token", "", "bearer token sent to the bridge")
	return cmd
}

func runTrack(ctx context.Context, cfg *config.Config, logger *zap.Logger, url, token string) error {
	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	src, err := source.Dial(ctx, url, header, logger)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	opts := append(p.engineOptions(cfg, logger), engine.WithFlushInterval(cfg.Tracker.FlushInterval))
	eng := engine.New(src, p.emitter, opts...)
	if err := eng.Start(ctx, cfg.Tracker.PollInterval); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Tracker.StopTimeout*2)
	defer cancel()
	if err := eng.Stop(shutdownCtx); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		return err
	}

	res, err := eng.Flush(shutdownCtx)
	if err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	if res.Observation != nil {
		logger.Info("final flush stored observation",
			zap.String("memory_type", string(res.Observation.MemoryType())),
			zap.Int("committed", res.Committed))
	}
	return nil
}
