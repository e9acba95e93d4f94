package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/craftwatch/internal/scrapers"
)

// newListCmd creates the 'list' subcommand. It needs no services.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the registered brewery scrapers",
		// Overrides the root hook; listing needs neither config nor storage.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLOCATION\tWEBSITE")
			for _, s := range scrapers.All() {
				b := s.Brewery()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.ID(), b.Name, b.Location, b.WebsiteURL)
			}
			return w.Flush()
		},
	}
}
