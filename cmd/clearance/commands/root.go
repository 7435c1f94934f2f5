package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	sitesFile *string
	outputDir *string
)

var rootCmd = &cobra.Command{
	Use:           "clearance",
	Short:         "clearance scrapes retailer clearance listings into per-store catalogs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	sitesFile = rootCmd.PersistentFlags().String("sites-file", "", "Site bundle (json5) layered over the built-in sites.")
	outputDir = rootCmd.PersistentFlags().String("output", "", "Directory catalogs are written to. Overrides SCRAPER_OUTPUT_DIR.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
