package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/maltedev/clearance-scraper/internal/sites"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sitesCmd)
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Lists the configured sites after local overrides are applied.",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := sites.Load(*sitesFile)
		if err != nil {
			return err
		}

		t := newTable(os.Stdout)
		t.AppendHeader(table.Row{"Site", "Label", "Pagination", "Max pages", "Stores", "Valid"})
		for _, name := range bundle.Names() {
			cfg := bundle.Sites[name]
			valid := "yes"
			if err := cfg.Validate(); err != nil {
				valid = err.Error()
			}
			t.AppendRow(table.Row{name, cfg.Label, cfg.Pagination, cfg.MaxPages, cfg.StoresFile, valid})
		}
		t.Render()
		return nil
	},
}
