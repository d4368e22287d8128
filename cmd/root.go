package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/facet/api"
	"github.com/agentic-research/facet/internal/config"
	"github.com/agentic-research/facet/internal/projection"
	"github.com/agentic-research/facet/internal/query"
	"github.com/agentic-research/facet/internal/refresh"
	"github.com/agentic-research/facet/internal/source"
	"github.com/agentic-research/facet/internal/store"
)

var (
	configPath   string
	sourcePath   string
	snapshotPath string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to HCL config file")
	rootCmd.PersistentFlags().StringVarP(&sourcePath, "source", "s", "", "Path to the source SQLite database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "Path for persisted derived snapshots (overrides config)")
}

var rootCmd = &cobra.Command{
	Use:   "facet",
	Short: "Facet: materialized faceted search over a provider registry",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// app wires the engine together for one command invocation.
type app struct {
	cfg    *config.Config
	src    *source.SQLiteStore
	active *store.ActiveRef
	coord  *refresh.Coordinator
	engine *query.Engine
}

func newApp() (*app, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if sourcePath != "" {
		cfg.SourcePath = sourcePath
	}
	if snapshotPath != "" {
		cfg.SnapshotPath = snapshotPath
	}

	src, err := source.OpenSQLite(cfg.SourcePath)
	if err != nil {
		return nil, err
	}

	active := store.NewActiveRef()
	if cfg.SnapshotPath != "" {
		if v, err := store.LoadSnapshot(cfg.SnapshotPath); err == nil {
			active.Swap(v)
			log.Printf("serving snapshot version %s from %s", v.ID, cfg.SnapshotPath)
		} else if !os.IsNotExist(err) {
			log.Printf("snapshot load failed, starting empty: %v", err)
		}
	}

	bounds := refresh.Bounds{
		MinRows: cfg.Validation.MinRows,
		MaxRows: cfg.Validation.MaxRows,
	}
	coord := refresh.NewCoordinator(projection.NewBuilder(src), active, bounds)
	if interval, err := cfg.Interval(); err == nil {
		// A snapshot younger than the refresh interval is considered fresh
		// for non-forced refreshes.
		coord.FreshFor = interval
	}
	if cfg.SnapshotPath != "" {
		// A write failure is logged, not fatal: the version is already live.
		coord.OnSwap = func(v *projection.Version) {
			if err := store.WriteSnapshot(cfg.SnapshotPath, v); err != nil {
				log.Printf("snapshot write failed: %v", err)
			}
		}
	}

	return &app{
		cfg:    cfg,
		src:    src,
		active: active,
		coord:  coord,
		engine: query.NewEngine(active),
	}, nil
}

func (a *app) close() {
	_ = a.src.Close() // safe to ignore
}

func (a *app) refresh(ctx context.Context) (api.RefreshReport, error) {
	return a.coord.RefreshNow(ctx)
}
