package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var refreshForce bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the derived projections from the source database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		start := time.Now()
		report, err := app.coord.Refresh(cmd.Context(), refreshForce)
		if err != nil {
			return err
		}

		fmt.Printf("version %s built in %v\n", report.VersionID, time.Since(start))
		names := make([]string, 0, len(report.RowsPerProjection))
		for name := range report.RowsPerProjection {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-20s %d rows\n", name, report.RowsPerProjection[name])
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Rebuild even if the loaded snapshot is fresh")
	rootCmd.AddCommand(refreshCmd)
}
