package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-harvest/internal/group"
	"github.com/JakeFAU/link-harvest/internal/storage/local"
)

// newGroupCmd creates the 'group' subcommand, which buckets URLs read from
// stdin into one batch file per host.
func newGroupCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Group URLs from stdin into per-host batch files",
		Long: `Reads URLs from stdin, one per line, buckets them by host and appends every
bucket with at least group.min_urls distinct URLs to <host>.txt in the output
directory. Existing files are appended to, never truncated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runGroup(cmd)
		},
	}

	cmd.Flags().String("output-dir", "", "directory for host files (overrides group.output_dir)")
	cmd.Flags().Int("min-urls", 0, "minimum distinct URLs per host (overrides group.min_urls)")
	c.bindFlag(cmd.Flags(), "group.output_dir", "output-dir")
	c.bindFlag(cmd.Flags(), "group.min_urls", "min-urls")

	return cmd
}

func (c *cli) runGroup(cmd *cobra.Command) error {
	groups, err := group.Collect(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read urls: %w", err)
	}

	store, err := local.New(local.Config{BaseDir: c.cfg.Group.OutputDir, CreateIfMissing: true})
	if err != nil {
		return fmt.Errorf("open output directory: %w", err)
	}

	results, err := group.Write(store, groups, c.cfg.Group.MinURLs, c.logger.Named("group"))
	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "[+] Wrote %d URLs to %s\n", r.URLs, r.File)
	}
	c.logger.Info("group command finished",
		zap.Int("hosts", len(groups)),
		zap.Int("files_written", len(results)),
		zap.String("path", store.Dir()))
	if err != nil {
		return fmt.Errorf("write host files: %w", err)
	}
	return nil
}
