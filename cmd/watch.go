package cmd

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh on the configured interval until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		interval, err := app.cfg.Interval()
		if err != nil {
			return err
		}
		if interval <= 0 {
			return fmt.Errorf("watch requires refresh_interval to be set")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// First build runs immediately; the schedule takes over from there.
		if _, err := app.refresh(ctx); err != nil {
			log.Printf("initial refresh failed: %v", err)
		}
		app.coord.Schedule(ctx, interval)

		<-ctx.Done()
		h := app.coord.Health()
		fmt.Printf("stopping: active version %s, last refresh %s\n",
			h.ActiveVersionID, h.LastRefreshStatus)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
