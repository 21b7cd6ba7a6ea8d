// Package edgecache holds the edge device's local copy of the published
// rule snapshot. Readers get a consistent snapshot pointer at all times, a
// sync mid-swap is never observable. Adopted snapshots are written through
// to the local SQLite cache so decisions survive a restart without cloud
// connectivity.
package edgecache

import (
	"log/slog"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/rules"
)

// Info summarizes the cache contents for health and status endpoints.
type Info struct {
	PropertyID  string    `json:"property_id"`
	Version     uint64    `json:"version"`
	Fingerprint string    `json:"fingerprint"`
	RuleCount   int       `json:"rule_count"`
	SyncedAt    time.Time `json:"synced_at"`
}

// state is swapped as one unit so snapshot and sync time never tear.
type state struct {
	snapshot *rules.Snapshot
	syncedAt time.Time
}

// Cache is the in-memory snapshot holder backed by the local database.
type Cache struct {
	ds     datastore.Interface
	logger *slog.Logger
	state  atomic.Pointer[state]
}

// New creates a cache on top of the given local datastore.
func New(ds datastore.Interface) *Cache {
	return &Cache{
		ds:     ds,
		logger: logging.ForService("edgecache"),
	}
}

// Load restores the cache from the local database. A device that has never
// synced stays empty. Cached rows whose recomputed fingerprint does not
// match the stored one are discarded, the device then behaves as never
// synced until the next successful sync.
func (c *Cache) Load() error {
	meta, err := c.ds.GetCacheMeta()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.Info("no cached rules on disk, waiting for first sync")
			return nil
		}
		return errors.New(err).
			Component("edgecache").
			Category(errors.CategoryRuleCache).
			Context("operation", "load").
			Build()
	}

	cached, err := c.ds.LoadCachedRules()
	if err != nil {
		return errors.New(err).
			Component("edgecache").
			Category(errors.CategoryRuleCache).
			Context("operation", "load").
			Build()
	}

	recs := make([]rules.Rule, 0, len(cached))
	for i := range cached {
		recs = append(recs, cached[i].ToRecord())
	}

	if fingerprint := rules.Fingerprint(recs); fingerprint != meta.Fingerprint {
		c.logger.Warn("cached rules do not match stored fingerprint, discarding cache",
			"stored", meta.Fingerprint,
			"computed", fingerprint,
			"rule_count", len(recs))
		return nil
	}

	snapshot := rules.BuildSnapshot(meta.PropertyID, meta.Version, meta.GeneratedAt, recs)
	c.state.Store(&state{snapshot: snapshot, syncedAt: meta.SyncedAt})
	c.logger.Info("restored rule cache from disk",
		"property_id", meta.PropertyID,
		"version", meta.Version,
		"rule_count", len(recs),
		"synced_at", meta.SyncedAt)
	return nil
}

// Adopt persists a fetched snapshot and swaps it in. A snapshot at or below
// the held version is ignored, re-delivery is a no-op. Integrity of the
// snapshot itself is the sync protocol's responsibility. The returned bool
// reports whether the snapshot was adopted.
func (c *Cache) Adopt(snapshot *rules.Snapshot, syncedAt time.Time) (bool, error) {
	if cur := c.Current(); cur != nil && snapshot.Version <= cur.Version {
		c.logger.Debug("ignoring snapshot at or below held version",
			"held", cur.Version,
			"offered", snapshot.Version)
		return false, nil
	}

	cached := make([]datastore.CachedRule, 0, len(snapshot.Rules))
	for i := range snapshot.Rules {
		cached = append(cached, datastore.CachedRuleFromRecord(&snapshot.Rules[i]))
	}
	meta := datastore.CacheMeta{
		PropertyID:  snapshot.PropertyID,
		Version:     snapshot.Version,
		Fingerprint: snapshot.Fingerprint,
		GeneratedAt: snapshot.GeneratedAt,
		SyncedAt:    syncedAt,
	}

	// Durable first, then visible. A failed write leaves the old snapshot
	// in service.
	if err := c.ds.ReplaceCachedRules(&meta, cached); err != nil {
		return false, errors.New(err).
			Component("edgecache").
			Category(errors.CategoryRuleCache).
			Context("operation", "adopt").
			Context("version", snapshot.Version).
			Build()
	}

	c.state.Store(&state{snapshot: snapshot, syncedAt: syncedAt})
	c.logger.Info("adopted rule snapshot",
		"property_id", snapshot.PropertyID,
		"version", snapshot.Version,
		"fingerprint", snapshot.Fingerprint,
		"rule_count", snapshot.RuleCount())
	return true, nil
}

// Current returns the held snapshot, nil when the device has never synced.
func (c *Cache) Current() *rules.Snapshot {
	if st := c.state.Load(); st != nil {
		return st.snapshot
	}
	return nil
}

// SyncedAt returns when the held snapshot was adopted, zero when never
// synced.
func (c *Cache) SyncedAt() time.Time {
	if st := c.state.Load(); st != nil {
		return st.syncedAt
	}
	return time.Time{}
}

// Info returns cache metadata for status reporting. ok is false when the
// device has never synced.
func (c *Cache) Info() (info Info, ok bool) {
	st := c.state.Load()
	if st == nil {
		return Info{}, false
	}
	return Info{
		PropertyID:  st.snapshot.PropertyID,
		Version:     st.snapshot.Version,
		Fingerprint: st.snapshot.Fingerprint,
		RuleCount:   st.snapshot.RuleCount(),
		SyncedAt:    st.syncedAt,
	}, true
}

// IsStale reports whether the held snapshot is older than the ceiling. A
// ceiling of zero disables staleness flagging, a never-synced cache is not
// stale (it has nothing to be stale about).
func (c *Cache) IsStale(now time.Time, ceiling time.Duration) bool {
	if ceiling <= 0 {
		return false
	}
	st := c.state.Load()
	if st == nil {
		return false
	}
	return now.Sub(st.syncedAt) > ceiling
}
