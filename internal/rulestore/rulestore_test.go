package rulestore

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

func setupStore(t *testing.T) *Store {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "rules.db")

	ds := datastore.New(settings)
	require.NotNil(t, ds)
	require.NoError(t, ds.Open())
	t.Cleanup(func() {
		require.NoError(t, ds.Close())
	})
	return New(ds)
}

func allowRule(propertyID, plate string) rules.Rule {
	return rules.Rule{
		PropertyID: propertyID,
		Plate:      plate,
		Category:   rules.CategoryAllow,
	}
}

func TestCreateRulePublishesSnapshot(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	rec := allowRule("prop-1", "ABC-1234")
	saved, err := store.CreateRule(&rec)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	info, err := store.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Version)
	assert.Equal(t, 1, info.RuleCount)
	assert.Equal(t, rules.Fingerprint([]rules.Rule{saved}), info.Fingerprint)

	// Second mutation bumps the version again
	rec2 := allowRule("prop-1", "XYZ-999")
	_, err = store.CreateRule(&rec2)
	require.NoError(t, err)

	info, err = store.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Version)
	assert.Equal(t, 2, info.RuleCount)
}

func TestCreateRuleRejectsInvalid(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	rec := rules.Rule{PropertyID: "prop-1", Plate: "ABC-1234", Category: "wildcard"}
	_, err := store.CreateRule(&rec)
	require.Error(t, err)

	// Nothing published for the property
	info, err := store.Probe("prop-1")
	require.NoError(t, err)
	assert.Zero(t, info.Version)
}

func TestUpdateRuleMovesProperty(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	rec := allowRule("prop-1", "ABC-1234")
	saved, err := store.CreateRule(&rec)
	require.NoError(t, err)

	moved := saved
	moved.PropertyID = "prop-2"
	_, err = store.UpdateRule(&moved)
	require.NoError(t, err)

	// Old property is republished as empty, new property holds the rule
	oldInfo, err := store.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), oldInfo.Version)
	assert.Zero(t, oldInfo.RuleCount)
	assert.Equal(t, rules.Fingerprint(nil), oldInfo.Fingerprint)

	newInfo, err := store.Probe("prop-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), newInfo.Version)
	assert.Equal(t, 1, newInfo.RuleCount)
}

func TestDeleteRuleRepublishesEmpty(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	rec := allowRule("prop-1", "ABC-1234")
	saved, err := store.CreateRule(&rec)
	require.NoError(t, err)

	require.NoError(t, store.DeleteRule(saved.ID))

	info, err := store.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Version)
	assert.Zero(t, info.RuleCount)
	assert.Equal(t, rules.Fingerprint(nil), info.Fingerprint)

	// Deleting again reports not found
	err = store.DeleteRule(saved.ID)
	require.Error(t, err)
}

func TestSnapshotMatchesProbe(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	recs := []rules.Rule{
		allowRule("prop-1", "AAA-111"),
		{PropertyID: "prop-1", Plate: "BBB-222", Category: rules.CategoryDeny},
	}
	_, err := store.CreateRules("prop-1", recs)
	require.NoError(t, err)

	snapshot, err := store.Snapshot("prop-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 2, snapshot.RuleCount())

	info, err := store.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, info.Fingerprint, snapshot.Fingerprint)
	assert.Equal(t, info.Version, snapshot.Version)

	matches := snapshot.Lookup("BBB222")
	require.Len(t, matches, 1)
	assert.Equal(t, rules.CategoryDeny, matches[0].Category)
}

func TestProbeUnknownProperty(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	info, err := store.Probe("nowhere")
	require.NoError(t, err)
	assert.Zero(t, info.Version)
	assert.Equal(t, rules.Fingerprint(nil), info.Fingerprint)
}

func TestReconcileRepairsDrift(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "rules.db")

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() {
		require.NoError(t, ds.Close())
	})
	store := New(ds)

	rec := allowRule("prop-1", "ABC-1234")
	_, err := store.CreateRule(&rec)
	require.NoError(t, err)

	// Corrupt the published fingerprint behind the store's back
	meta, err := ds.GetSnapshotMeta("prop-1")
	require.NoError(t, err)
	meta.Fingerprint = "0000"
	meta.GeneratedAt = time.Now()
	require.NoError(t, ds.SaveSnapshotMeta(&meta))

	republished, err := store.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 1, republished)

	info, err := store.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Version)
	assert.NotEqual(t, "0000", info.Fingerprint)

	// A clean store reconciles without republishing
	republished, err = store.Reconcile()
	require.NoError(t, err)
	assert.Zero(t, republished)
}

func TestProbeCacheInvalidatedByMutations(t *testing.T) {
	t.Parallel()
	store := setupStore(t)

	rec := allowRule("prop-1", "ABC-1234")
	_, err := store.CreateRule(&rec)
	require.NoError(t, err)

	first, err := store.Probe("prop-1")
	require.NoError(t, err)

	// Served from cache between mutations
	again, err := store.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	rec2 := allowRule("prop-1", "XYZ-999")
	_, err = store.CreateRule(&rec2)
	require.NoError(t, err)

	bumped, err := store.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, bumped.Version)
	assert.NotEqual(t, first.Fingerprint, bumped.Fingerprint)
}
