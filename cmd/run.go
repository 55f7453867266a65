package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-harvest/internal/app"
)

// newRunCmd creates the 'run' subcommand, which validates every batch file in
// the input directory and rewrites each with its reachable URLs.
func newRunCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate every batch file in the input directory",
		Long: `Reads every regular file in the input directory as a newline-delimited URL
list, checks each URL with a paced, retried HTTP HEAD request, and atomically
replaces the file with the sorted, de-duplicated survivors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runHarvest(cmd)
		},
	}

	cmd.Flags().String("input-dir", "", "directory of batch files (overrides harvest.input_dir)")
	cmd.Flags().Int("workers", 0, "URL workers per file (overrides harvest.workers)")
	cmd.Flags().BoolP("verbose", "v", false, "print one line per checked URL")
	cmd.Flags().String("server-addr", "", "serve health, metrics and stats on this address")
	c.bindFlag(cmd.Flags(), "harvest.input_dir", "input-dir")
	c.bindFlag(cmd.Flags(), "harvest.workers", "workers")
	c.bindFlag(cmd.Flags(), "harvest.verbose", "verbose")
	c.bindFlag(cmd.Flags(), "server.addr", "server-addr")

	return cmd
}

func (c *cli) runHarvest(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c.cfg, c.logger, app.Options{Out: cmd.OutOrStdout()})
	if err != nil {
		return fmt.Errorf("initialize harvest: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			c.logger.Warn("failed to close harvest services", zap.Error(cerr))
		}
	}()

	sum, err := a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		c.logger.Warn("harvest interrupted; unprocessed files left untouched",
			zap.Int("files_completed", len(sum.Files)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("run harvest: %w", err)
	}

	failed := 0
	for _, f := range sum.Files {
		if !f.Rewritten() {
			failed++
		}
	}
	c.logger.Info("run command finished",
		zap.Int("files", len(sum.Files)),
		zap.Int("files_failed", failed),
		zap.Int("urls", sum.Total))
	return nil
}
