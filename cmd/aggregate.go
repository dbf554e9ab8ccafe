package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uzadolat/courtharvest/internal/aggregate"
)

// newAggregateCmd creates the 'aggregate' subcommand.
func newAggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Rebuild the corpus manifest from committed page metadata",
		Long: `Scans the metadata directory and regenerates all_decisions.json from every
committed page file. Useful after manual cleanup or for corpora harvested
across many separate runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			manifest, err := aggregate.New(cfg.Harvest.DownloadDir, nil, logger).Build(cmd.Context())
			if err != nil {
				return fmt.Errorf("aggregate: %w", err)
			}
			logger.Info("manifest rebuilt",
				zap.Int("pages", manifest.Pages),
				zap.Int("decisions", len(manifest.Decisions)),
				zap.Strings("sections", manifest.Sections),
			)
			return nil
		},
	}
}
