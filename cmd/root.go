// Package cmd implements the portablebrain command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/config"
	"github.com/smkim0508/Portable-Brain/observability"
)

// cli carries state shared by the subcommands of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// NewRootCmd builds the command tree with a fresh viper instance.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "portablebrain",
		Short:         "Portable Brain turns Android UI activity into personal memory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.initializeConfig(); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(c.v)
			if err != nil {
				return err
			}
			c.cfg = cfg
			observability.InitializeLogger(cfg.Logger)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	_ = c.v.BindPFlag("logger.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newReplayCmd(c), newTrackCmd(c), newRecallCmd(c))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	defer observability.Sync()

	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		observability.Sync()
		os.Exit(1)
	}
}

// initializeConfig reads the config file, if any, and enables PBRAIN_* overrides.
func (c *cli) initializeConfig() error {
	config.SetDefaults(c.v)

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.AddConfigPath(".")
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
	}

	c.v.SetEnvPrefix(config.EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || c.cfgFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
