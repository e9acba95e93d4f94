package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/craftwatch/internal/clock/system"
	"github.com/JakeFAU/craftwatch/internal/scrapers"
)

// newScrapeCmd creates the 'scrape' subcommand. With no arguments every
// registered brewery is scraped.
func newScrapeCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "scrape [brewery...]",
		Short: "Scrapes breweries and writes an inventory snapshot",
		Long: `Scrapes the named breweries (short names or ids; all when omitted),
normalises and deduplicates their items, and writes the snapshot for the
as-of date. Pages already cached for that date are not fetched again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if date != "" {
				if _, err := time.Parse(system.DateLayout, date); err != nil {
					return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
				}
			}
			selected, err := scrapers.Lookup(args)
			if err != nil {
				return err
			}

			report, err := appInstance.Scrape(cmd.Context(), selected, date)
			if err != nil {
				return fmt.Errorf("scrape: %w", err)
			}
			for id, ferr := range report.Failed {
				appInstance.Logger().Warn("Brewery failed", zap.String("brewery", id), zap.Error(ferr))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d items from %d breweries (%d failed)\n",
				report.Inventory.Metadata.AsOf,
				len(report.Inventory.Items),
				len(report.Inventory.Breweries),
				len(report.Failed),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "as-of date (YYYY-MM-DD) for the page cache and snapshot; defaults to today")
	return cmd
}
