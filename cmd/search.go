package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/facet/api"
)

var (
	searchRole     string
	searchSpec     string
	searchName     string
	searchEmployer string
	searchSort     string
	searchPage     int
	searchPageSize int
)

var searchCmd = &cobra.Command{
	Use:   "search [facility-id]",
	Short: "Search providers at a facility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		// Cold start without a snapshot: build before serving.
		if app.active.Active() == nil {
			if _, err := app.refresh(cmd.Context()); err != nil {
				return err
			}
		}

		filters := api.SearchFilters{
			Role:               searchRole,
			Specialty:          searchSpec,
			NamePrefix:         searchName,
			EmployerNamePrefix: searchEmployer,
		}
		page, err := app.engine.Search(cmd.Context(), args[0], filters, searchSort, searchPage, searchPageSize)
		if err != nil {
			return err
		}

		fmt.Printf("%d providers (page %d/%d, version %s)\n",
			page.TotalEstimate, page.Page, page.TotalPages, page.VersionID)
		for _, r := range page.Results {
			fmt.Printf("  %-12s %s, %s", r.ProviderID, r.LastName, r.FirstName)
			if len(r.Roles) > 0 {
				fmt.Printf("  roles=%s", strings.Join(r.Roles, ","))
			}
			if len(r.Specialties) > 0 {
				fmt.Printf("  specialties=%s", strings.Join(r.Specialties, ","))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchRole, "role", "", "Filter by role")
	searchCmd.Flags().StringVar(&searchSpec, "specialty", "", "Filter by specialty")
	searchCmd.Flags().StringVar(&searchName, "name", "", "Filter by provider name prefix")
	searchCmd.Flags().StringVar(&searchEmployer, "employer", "", "Filter by employer name prefix")
	searchCmd.Flags().StringVar(&searchSort, "sort", "", `Sort order: "" (provider id) or "name"`)
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "Page number (1-based)")
	searchCmd.Flags().IntVar(&searchPageSize, "page-size", 0, "Results per page")
	rootCmd.AddCommand(searchCmd)
}
