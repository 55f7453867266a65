// Package cmd defines and implements the CLI commands for the harvest executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/link-harvest/internal/app"
	"github.com/JakeFAU/link-harvest/internal/batch"
	"github.com/JakeFAU/link-harvest/internal/config"
	"github.com/JakeFAU/link-harvest/internal/logging"
)

// harvestApp is the application surface the run command drives.
type harvestApp interface {
	Run(ctx context.Context) (batch.Summary, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (harvestApp, error) {
	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Validate, group and extract candidate URLs.",
		Long: `harvest checks batches of candidate URLs against their live hosts and keeps
only the reachable ones. Each host is paced, failed checks are retried with
exponential backoff, and every batch file is rewritten atomically.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config and logging are built once flags are parsed.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.v, c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			c.cfg = cfg
			c.logger = logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = c.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newRunCmd(c))
	cmd.AddCommand(newGroupCmd(c))
	cmd.AddCommand(newExtractCmd(c))

	return cmd
}

// bindFlag maps a command flag onto a config key. Flags only win when set.
func (c *cli) bindFlag(flags *pflag.FlagSet, key, flag string) {
	if err := c.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		if logger := zap.L(); logger.Core().Enabled(zapcore.ErrorLevel) {
			logger.Fatal("command execution failed", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
