package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-harvest/internal/extract"
)

// newExtractCmd creates the 'extract' subcommand, which prints the absolute
// links of one HTML document.
func newExtractCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "extract [file|url]",
		Short: "Print the absolute http(s) links of an HTML document",
		Long: `Prints the sorted, distinct absolute http and https anchor targets found in
one HTML document. The document is a local file, an http(s) URL, or stdin when
no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				links []string
				err   error
			)
			if len(args) == 0 {
				links, err = extract.FromReader(cmd.InOrStdin())
			} else {
				links, err = extract.FromLocation(cmd.Context(), args[0], extract.Config{
					UserAgent: c.cfg.Harvest.UserAgent,
					Timeout:   c.cfg.Harvest.RequestTimeout,
				})
			}
			if err != nil {
				return fmt.Errorf("extract links: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, l := range links {
				fmt.Fprintln(out, l)
			}
			c.logger.Debug("extract command finished", zap.Int("links", len(links)))
			return nil
		},
	}
}
