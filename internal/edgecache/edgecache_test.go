package edgecache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/rules"
)

func setupCacheStore(t *testing.T, dir string) datastore.Interface {
	t.Helper()

	settings := &conf.Settings{}
	settings.Edge.Cache.Path = filepath.Join(dir, "cache.db")

	ds := datastore.NewCacheStore(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() {
		require.NoError(t, ds.Close())
	})
	return ds
}

func snapshotV(version uint64, plates ...string) *rules.Snapshot {
	recs := make([]rules.Rule, 0, len(plates))
	for i, plate := range plates {
		recs = append(recs, rules.Rule{
			ID:         uint(i + 1),
			PropertyID: "prop-1",
			Plate:      plate,
			Category:   rules.CategoryAllow,
		})
	}
	return rules.BuildSnapshot("prop-1", version, time.Now().UTC(), recs)
}

func TestAdoptAndLookup(t *testing.T) {
	t.Parallel()
	cache := New(setupCacheStore(t, t.TempDir()))

	assert.Nil(t, cache.Current())
	assert.True(t, cache.SyncedAt().IsZero())

	now := time.Now()
	adopted, err := cache.Adopt(snapshotV(1, "ABC-1234"), now)
	require.NoError(t, err)
	assert.True(t, adopted)

	snapshot := cache.Current()
	require.NotNil(t, snapshot)
	assert.Equal(t, uint64(1), snapshot.Version)
	assert.Len(t, snapshot.Lookup("ABC1234"), 1)
	assert.True(t, cache.SyncedAt().Equal(now))
}

func TestAdoptIgnoresOldVersions(t *testing.T) {
	t.Parallel()
	cache := New(setupCacheStore(t, t.TempDir()))

	adopted, err := cache.Adopt(snapshotV(5, "ABC-1234"), time.Now())
	require.NoError(t, err)
	require.True(t, adopted)

	t.Run("same version", func(t *testing.T) {
		adopted, err := cache.Adopt(snapshotV(5, "ABC-1234"), time.Now())
		require.NoError(t, err)
		assert.False(t, adopted)
	})

	t.Run("older version", func(t *testing.T) {
		adopted, err := cache.Adopt(snapshotV(3, "XYZ-999"), time.Now())
		require.NoError(t, err)
		assert.False(t, adopted)
		// Held snapshot unchanged
		assert.Len(t, cache.Current().Lookup("ABC1234"), 1)
	})

	t.Run("newer version", func(t *testing.T) {
		adopted, err := cache.Adopt(snapshotV(6, "XYZ-999"), time.Now())
		require.NoError(t, err)
		assert.True(t, adopted)
		assert.Empty(t, cache.Current().Lookup("ABC1234"))
		assert.Len(t, cache.Current().Lookup("XYZ999"), 1)
	})
}

func TestLoadRestoresAcrossRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	syncedAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	first := New(setupCacheStore(t, dir))
	adopted, err := first.Adopt(snapshotV(4, "ABC-1234", "XYZ-999"), syncedAt)
	require.NoError(t, err)
	require.True(t, adopted)

	// Fresh cache over the same database simulates a process restart
	second := New(setupCacheStore(t, dir))
	require.NoError(t, second.Load())

	snapshot := second.Current()
	require.NotNil(t, snapshot)
	assert.Equal(t, uint64(4), snapshot.Version)
	assert.Equal(t, 2, snapshot.RuleCount())
	assert.Len(t, snapshot.Lookup("XYZ999"), 1)
	assert.True(t, second.SyncedAt().Equal(syncedAt))
}

func TestLoadEmptyDatabase(t *testing.T) {
	t.Parallel()
	cache := New(setupCacheStore(t, t.TempDir()))

	require.NoError(t, cache.Load())
	assert.Nil(t, cache.Current())

	_, ok := cache.Info()
	assert.False(t, ok)
}

func TestLoadDiscardsCorruptCache(t *testing.T) {
	t.Parallel()
	ds := setupCacheStore(t, t.TempDir())

	// Write rows whose fingerprint does not match the stored metadata
	meta := &datastore.CacheMeta{
		PropertyID:  "prop-1",
		Version:     9,
		Fingerprint: "deadbeef",
		GeneratedAt: time.Now(),
		SyncedAt:    time.Now(),
	}
	rows := []datastore.CachedRule{
		{ID: 1, PropertyID: "prop-1", Plate: "ABC-1234", PlateNormalized: "ABC1234", Category: "allow"},
	}
	require.NoError(t, ds.ReplaceCachedRules(meta, rows))

	cache := New(ds)
	require.NoError(t, cache.Load())
	assert.Nil(t, cache.Current(), "corrupt cache should not be served")
}

func TestInfoAndStaleness(t *testing.T) {
	t.Parallel()
	cache := New(setupCacheStore(t, t.TempDir()))

	syncedAt := time.Now().Add(-25 * time.Hour)
	adopted, err := cache.Adopt(snapshotV(2, "ABC-1234"), syncedAt)
	require.NoError(t, err)
	require.True(t, adopted)

	info, ok := cache.Info()
	require.True(t, ok)
	assert.Equal(t, "prop-1", info.PropertyID)
	assert.Equal(t, uint64(2), info.Version)
	assert.Equal(t, 1, info.RuleCount)

	now := time.Now()
	assert.True(t, cache.IsStale(now, 24*time.Hour))
	assert.False(t, cache.IsStale(now, 48*time.Hour))
	assert.False(t, cache.IsStale(now, 0), "zero ceiling disables staleness")
}
