// runner.go: the sync state machine and its polling loop
package edgesync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/edgecache"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/observability/metrics"
	"github.com/plategate/plategate/internal/rules"
	"github.com/plategate/plategate/internal/rulestore"
)

// State is the sync loop's current activity.
type State int32

// Sync states. The loop rests in Idle between cycles, walks Probing and
// Fetching during a cycle, and sits in Backoff after a failed cycle.
const (
	StateIdle State = iota
	StateProbing
	StateFetching
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateFetching:
		return "fetching"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// SnapshotSource is the cloud side of the sync protocol.
type SnapshotSource interface {
	FetchFingerprint(ctx context.Context) (rulestore.SnapshotInfo, error)
	FetchSnapshot(ctx context.Context) (*rules.Snapshot, error)
}

// Status is a point-in-time view of the sync loop for health endpoints.
type Status struct {
	State               string    `json:"state"`
	LastAttempt         time.Time `json:"last_attempt,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	HeldVersion         uint64    `json:"held_version"`
}

// Runner drives the sync protocol: probe the fingerprint, fetch on
// mismatch, validate, adopt, and back off exponentially on failure.
type Runner struct {
	source   SnapshotSource
	cache    *edgecache.Cache
	logger   *slog.Logger
	metrics  *metrics.SyncMetrics
	interval time.Duration
	base     time.Duration
	ceiling  time.Duration

	state   atomic.Int32
	trigger chan struct{}

	mu          sync.Mutex
	lastAttempt time.Time
	lastSuccess time.Time
	lastError   string
	failures    int
}

// Package-level logger shared by the runner and the heartbeater, lazily
// opened so importing the package costs nothing on the cloud side.
var (
	syncLogger  *slog.Logger
	syncLogOnce sync.Once
)

const defaultLogPath = "logs/edgesync.log"

func getLogger() *slog.Logger {
	syncLogOnce.Do(func() {
		logger, _, err := logging.NewFileLogger(defaultLogPath, "edgesync", slog.LevelInfo)
		if err != nil {
			logging.Error("Failed to initialize edgesync file logger", "error", err)
			syncLogger = logging.ForService("edgesync")
			return
		}
		syncLogger = logger
	})
	return syncLogger
}

// NewRunner creates a sync runner from the edge settings.
func NewRunner(source SnapshotSource, cache *edgecache.Cache, settings *conf.Settings) *Runner {
	sc := &settings.Edge.Sync
	return &Runner{
		source:   source,
		cache:    cache,
		logger:   getLogger(),
		interval: time.Duration(sc.IntervalSeconds) * time.Second,
		base:     time.Duration(sc.BackoffBaseSeconds) * time.Second,
		ceiling:  time.Duration(sc.BackoffMaxSeconds) * time.Second,
		trigger:  make(chan struct{}, 1),
	}
}

// SetMetrics attaches sync metrics. Must be called before Start.
func (r *Runner) SetMetrics(m *metrics.SyncMetrics) {
	r.metrics = m
}

// State returns the loop's current state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// Status reports the loop's recent history for the health endpoint.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{
		State:               r.State().String(),
		LastAttempt:         r.lastAttempt,
		LastSuccess:         r.lastSuccess,
		LastError:           r.lastError,
		ConsecutiveFailures: r.failures,
	}
	if snapshot := r.cache.Current(); snapshot != nil {
		status.HeldVersion = snapshot.Version
	}
	return status
}

// TriggerNow requests an immediate sync cycle. It never blocks, a trigger
// arriving while one is already pending is folded into it.
func (r *Runner) TriggerNow() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start launches the polling loop. The loop runs one cycle immediately,
// then rests for the configured interval between cycles, or for the backoff
// delay after a failure. It stops when the context is canceled.
func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-r.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		err := r.SyncOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			r.setState(StateBackoff)
			delay := r.backoffDelay()
			r.logger.Warn("sync cycle failed",
				"error", err,
				"consecutive_failures", r.consecutiveFailures(),
				"retry_in", delay)
			timer.Reset(delay)
			continue
		}

		r.setState(StateIdle)
		timer.Reset(r.interval)
	}
}

// SyncOnce runs a single sync cycle: probe, compare, and fetch-validate-
// adopt on mismatch. It is also called directly by the manual trigger
// endpoint's synchronous mode and by tests.
func (r *Runner) SyncOnce(ctx context.Context) error {
	start := time.Now()
	r.noteAttempt(start)
	if r.metrics != nil {
		r.metrics.IncrementAttempts()
	}

	err := r.syncCycle(ctx)

	r.mu.Lock()
	if err != nil {
		r.failures++
		r.lastError = err.Error()
	} else {
		r.failures = 0
		r.lastError = ""
		r.lastSuccess = time.Now()
	}
	r.mu.Unlock()

	if err == nil && r.metrics != nil {
		r.metrics.RecordSuccess(time.Since(start).Seconds())
	}
	return err
}

func (r *Runner) syncCycle(ctx context.Context) error {
	r.setState(StateProbing)
	info, err := r.source.FetchFingerprint(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordFailure("probe")
		}
		return err
	}

	cur := r.cache.Current()
	if cur != nil && cur.Fingerprint == info.Fingerprint {
		r.logger.Debug("fingerprint match, cache is current",
			"version", cur.Version,
			"fingerprint", cur.Fingerprint)
		return nil
	}
	if cur != nil && info.Version <= cur.Version {
		// Holding a version the cloud no longer advances past. Never move
		// backwards, keep serving the held snapshot.
		r.logger.Warn("cloud offers version at or below held version, skipping",
			"held_version", cur.Version,
			"offered_version", info.Version)
		return nil
	}
	if cur == nil && info.Version == 0 {
		// Nothing published for this property yet.
		r.logger.Debug("no published snapshot for property yet")
		return nil
	}

	r.setState(StateFetching)
	snapshot, err := r.source.FetchSnapshot(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordFailure("fetch")
		}
		return err
	}

	computed := rules.Fingerprint(snapshot.Rules)
	if computed != snapshot.Fingerprint {
		if r.metrics != nil {
			r.metrics.RecordFailure("validate")
		}
		return errors.Newf("snapshot fingerprint mismatch: claimed %s, computed %s",
			snapshot.Fingerprint, computed).
			Component("edgesync").
			Category(errors.CategorySyncIntegrity).
			Context("operation", "validate").
			Context("version", snapshot.Version).
			Build()
	}

	indexed := rules.BuildSnapshot(snapshot.PropertyID, snapshot.Version, snapshot.GeneratedAt, snapshot.Rules)
	adopted, err := r.cache.Adopt(indexed, time.Now())
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordFailure("adopt")
		}
		return err
	}
	if adopted {
		if r.metrics != nil {
			r.metrics.RecordAdoption(indexed.Version, indexed.RuleCount())
		}
		r.logger.Info("synchronized rule snapshot",
			"version", indexed.Version,
			"fingerprint", indexed.Fingerprint,
			"rule_count", indexed.RuleCount())
	}
	return nil
}

func (r *Runner) noteAttempt(at time.Time) {
	r.mu.Lock()
	r.lastAttempt = at
	r.mu.Unlock()
}

func (r *Runner) consecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// backoffDelay doubles from the base per consecutive failure up to the
// ceiling.
func (r *Runner) backoffDelay() time.Duration {
	failures := r.consecutiveFailures()
	if failures < 1 {
		failures = 1
	}

	delay := r.base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= r.ceiling {
			return r.ceiling
		}
	}
	if delay > r.ceiling {
		return r.ceiling
	}
	return delay
}
