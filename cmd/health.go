package cmd

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
)

var healthMetrics bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the active version and refresh state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		h := app.coord.Health()
		if h.ActiveVersionID == "" {
			fmt.Println("no derived version loaded")
		} else {
			fmt.Printf("active version: %s\n", h.ActiveVersionID)
			fmt.Printf("staleness:      %.0fs\n", h.StalenessSeconds)
			fmt.Printf("last refresh:   %s\n", h.LastRefreshStatus)
		}
		if healthMetrics {
			fmt.Println()
			metrics.WritePrometheus(cmd.OutOrStdout(), false)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthMetrics, "metrics", false, "Dump engine counters in Prometheus exposition format")
	rootCmd.AddCommand(healthCmd)
}
