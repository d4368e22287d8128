package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var facetsSort string

var facetsCmd = &cobra.Command{
	Use:   "facets [facility-id]",
	Short: "List (role, specialty) aggregation counts at a facility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		if app.active.Active() == nil {
			if _, err := app.refresh(cmd.Context()); err != nil {
				return err
			}
		}

		facets, err := app.engine.Facets(cmd.Context(), args[0], facetsSort)
		if err != nil {
			return err
		}
		for _, f := range facets {
			role, specialty := f.Role, f.Specialty
			if role == "" {
				role = "(unclassified)"
			}
			if specialty == "" {
				specialty = "-"
			}
			fmt.Printf("  %-24s %-24s %d\n", role, specialty, f.Count)
		}
		return nil
	},
}

func init() {
	facetsCmd.Flags().StringVar(&facetsSort, "sort", "", `Sort order: "" (role, specialty) or "count"`)
	rootCmd.AddCommand(facetsCmd)
}
