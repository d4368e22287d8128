// Package refresh orchestrates rebuilds of the derived state: it drives the
// builder, validates the candidate version, and performs the atomic swap.
// It is the sole writer of the active-version reference.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"golang.org/x/sync/singleflight"

	"github.com/agentic-research/facet/api"
	"github.com/agentic-research/facet/internal/projection"
	"github.com/agentic-research/facet/internal/store"
)

// ErrValidationFailed marks a built version that failed sanity checks. The
// candidate is discarded; the active version stays untouched.
var ErrValidationFailed = errors.New("derived version failed validation")

// State is the coordinator's position in the refresh cycle.
type State int32

const (
	StateIdle State = iota
	StateBuilding
	StateValidating
	StateSwapping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateValidating:
		return "validating"
	case StateSwapping:
		return "swapping"
	default:
		return "unknown"
	}
}

// Bounds are optional row-count limits applied during validation. Zero
// values disable the corresponding check.
type Bounds struct {
	MinRows int
	MaxRows int
}

var (
	refreshSuccess   = metrics.NewCounter(`facet_refresh_total{status="success"}`)
	refreshFailed    = metrics.NewCounter(`facet_refresh_total{status="failed"}`)
	refreshCoalesced = metrics.NewCounter(`facet_refresh_coalesced_total`)
)

// Coordinator runs at most one build at a time. Concurrent RefreshNow calls
// while a build is in flight attach to it and receive its eventual result.
type Coordinator struct {
	builder *projection.Builder
	active  *store.ActiveRef
	bounds  Bounds

	// OnSwap, when set, runs after each successful swap with the newly
	// active version. Used for snapshot persistence. Set before first use.
	OnSwap func(*projection.Version)

	// FreshFor is the age under which a non-forced Refresh skips the
	// rebuild and reports the active version. Zero always rebuilds.
	FreshFor time.Duration

	group singleflight.Group

	mu         sync.Mutex
	state      State
	lastStatus string
}

func NewCoordinator(builder *projection.Builder, active *store.ActiveRef, bounds Bounds) *Coordinator {
	return &Coordinator{
		builder:    builder,
		active:     active,
		bounds:     bounds,
		lastStatus: "never",
	}
}

// Refresh runs a cycle unless the active version is still fresh and force
// is false, in which case it reports the active version as-is.
func (c *Coordinator) Refresh(ctx context.Context, force bool) (api.RefreshReport, error) {
	if !force && c.FreshFor > 0 {
		if v := c.active.Active(); v != nil && time.Since(v.BuiltAt) < c.FreshFor {
			return api.RefreshReport{
				VersionID:         v.ID,
				BuiltAt:           v.BuiltAt,
				RowsPerProjection: v.RowCounts(),
			}, nil
		}
	}
	return c.RefreshNow(ctx)
}

// RefreshNow runs one full refresh cycle, or joins the in-flight one.
// Cancellation via ctx is honored up to the swap; the swap itself is a
// pointer update and always completes once started.
func (c *Coordinator) RefreshNow(ctx context.Context) (api.RefreshReport, error) {
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		return c.runCycle(ctx)
	})
	if shared {
		refreshCoalesced.Inc()
	}
	if err != nil {
		return api.RefreshReport{Coalesced: shared}, err
	}
	report := v.(api.RefreshReport)
	report.Coalesced = shared
	return report, nil
}

func (c *Coordinator) runCycle(ctx context.Context) (api.RefreshReport, error) {
	c.setState(StateBuilding)

	candidate, err := c.builder.Build(ctx)
	if err != nil {
		c.finishFailed(err)
		return api.RefreshReport{}, err
	}
	if err := ctx.Err(); err != nil {
		c.finishFailed(err)
		return api.RefreshReport{}, err
	}

	c.setState(StateValidating)
	if err := c.validate(candidate); err != nil {
		c.finishFailed(err)
		return api.RefreshReport{}, err
	}
	if err := ctx.Err(); err != nil {
		// Last cancellation point: once Swapping begins it completes.
		c.finishFailed(err)
		return api.RefreshReport{}, err
	}

	c.setState(StateSwapping)
	c.active.Swap(candidate)

	c.mu.Lock()
	c.state = StateIdle
	c.lastStatus = "ok"
	c.mu.Unlock()
	refreshSuccess.Inc()
	log.Printf("refresh: version %s active (%d source rows)", candidate.ID, candidate.SourceRows)
	if c.OnSwap != nil {
		c.OnSwap(candidate)
	}

	return api.RefreshReport{
		VersionID:         candidate.ID,
		BuiltAt:           candidate.BuiltAt,
		RowsPerProjection: candidate.RowCounts(),
	}, nil
}

// validate applies the fail-closed sanity checks. Stale-but-correct beats
// wrong-and-fresh: any failure here leaves the active version in place.
func (c *Coordinator) validate(candidate *projection.Version) error {
	counts := candidate.RowCounts()

	if candidate.SourceRows > 0 {
		for name, n := range counts {
			if n == 0 {
				return fmt.Errorf("%w: projection %s empty with non-empty source", ErrValidationFailed, name)
			}
		}
	}

	// Regression check against the active version: a projection that had
	// rows must not drop to zero.
	if active := c.active.Active(); active != nil {
		for name, prev := range active.RowCounts() {
			if prev > 0 && counts[name] == 0 {
				return fmt.Errorf("%w: projection %s went from %d rows to 0", ErrValidationFailed, name, prev)
			}
		}
	}

	for name, n := range counts {
		if c.bounds.MinRows > 0 && n < c.bounds.MinRows {
			return fmt.Errorf("%w: projection %s has %d rows, below minimum %d", ErrValidationFailed, name, n, c.bounds.MinRows)
		}
		if c.bounds.MaxRows > 0 && n > c.bounds.MaxRows {
			return fmt.Errorf("%w: projection %s has %d rows, above maximum %d", ErrValidationFailed, name, n, c.bounds.MaxRows)
		}
	}

	// No distinct provider count may exceed the source provider population.
	providerCeiling := candidate.Dict.Len()
	for _, k := range candidate.RoleSpecialty.Keys() {
		if candidate.RoleSpecialty.Count(k) > providerCeiling {
			return fmt.Errorf("%w: count for %v exceeds provider population %d", ErrValidationFailed, k, providerCeiling)
		}
	}

	return nil
}

// Rollback restores the retained previous version and reports its ID. The
// swap semantics live in the store; this adds logging and persistence.
func (c *Coordinator) Rollback() (string, error) {
	v, err := c.active.Rollback()
	if err != nil {
		return "", err
	}
	log.Printf("refresh: rolled back to version %s", v.ID)
	if c.OnSwap != nil {
		c.OnSwap(v)
	}
	return v.ID, nil
}

// Schedule starts periodic refreshes until ctx is cancelled. Failed cycles
// are logged and retried on the next tick.
func (c *Coordinator) Schedule(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.RefreshNow(ctx); err != nil {
					log.Printf("refresh: scheduled cycle failed: %v", err)
				}
			}
		}
	}()
}

// CurrentVersion returns the active version ID, "" before the first swap.
func (c *Coordinator) CurrentVersion() string {
	if v := c.active.Active(); v != nil {
		return v.ID
	}
	return ""
}

// State reports the coordinator's current cycle position.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Health reports the active version, its staleness, and the last refresh
// outcome. Builder errors surface here and via RefreshNow, never through
// the query path.
func (c *Coordinator) Health() api.Health {
	c.mu.Lock()
	status := c.lastStatus
	c.mu.Unlock()

	h := api.Health{LastRefreshStatus: status}
	if v := c.active.Active(); v != nil {
		h.ActiveVersionID = v.ID
		h.StalenessSeconds = time.Since(v.BuiltAt).Seconds()
	}
	return h
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// finishFailed records the failure and returns the cycle to Idle; the
// failure itself stays visible through Health until the next success.
func (c *Coordinator) finishFailed(err error) {
	c.mu.Lock()
	c.state = StateIdle
	c.lastStatus = "failed: " + err.Error()
	c.mu.Unlock()
	refreshFailed.Inc()
	log.Printf("refresh: cycle failed, active version retained: %v", err)
}
