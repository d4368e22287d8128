package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var summarySubtype string

var summaryCmd = &cobra.Command{
	Use:   "summary [facility-id]",
	Short: "Show the denormalized summary rows for a facility",
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

		summaries, err := app.engine.Summaries(cmd.Context(), args[0], summarySubtype)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("no summary rows")
			return nil
		}
		for _, s := range summaries {
			fmt.Printf("%s (%s): %d providers, %d employers\n",
				s.FacilityID, s.Subtype, s.TotalProviders, s.TotalEmployers)
			if len(s.Roles) > 0 {
				fmt.Printf("  roles:       %s\n", strings.Join(s.Roles, ", "))
			}
			if len(s.Specialties) > 0 {
				fmt.Printf("  specialties: %s\n", strings.Join(s.Specialties, ", "))
			}
			if len(s.Employers) > 0 {
				fmt.Printf("  employers:   %s\n", strings.Join(s.Employers, ", "))
			}
		}
		return nil
	},
}

func init() {
	summaryCmd.Flags().StringVar(&summarySubtype, "subtype", "", "Restrict to one facility subtype")
	rootCmd.AddCommand(summaryCmd)
}
