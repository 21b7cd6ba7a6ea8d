package datastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/rules"
)

// setupTestStore opens a SQLite store in a temporary directory.
func setupTestStore(t *testing.T) Interface {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store := New(settings)
	require.NotNil(t, store, "expected a SQLite store")
	require.NoError(t, store.Open(), "failed to open test store")
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func testRule(propertyID, plate, category string) *Rule {
	return &Rule{
		PropertyID:      propertyID,
		Plate:           plate,
		PlateNormalized: rules.NormalizePlate(plate),
		Category:        category,
	}
}

func TestRuleCRUD(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	rule := testRule("prop-1", "ABC-1234", "allow")
	require.NoError(t, store.SaveRule(rule))
	require.NotZero(t, rule.ID, "expected assigned ID after save")

	got, err := store.GetRule(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "ABC-1234", got.Plate)
	assert.Equal(t, "ABC1234", got.PlateNormalized)

	got.Label = "resident"
	got.Category = "deny"
	require.NoError(t, store.UpdateRule(&got))

	updated, err := store.GetRule(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "resident", updated.Label)
	assert.Equal(t, "deny", updated.Category)

	require.NoError(t, store.DeleteRule(rule.ID))
	_, err = store.GetRule(rule.ID)
	require.Error(t, err, "expected error after delete")

	err = store.DeleteRule(rule.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGetRulesOrderedByID(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	require.NoError(t, store.SaveRule(testRule("prop-1", "AAA-111", "allow")))
	require.NoError(t, store.SaveRule(testRule("prop-1", "BBB-222", "deny")))
	require.NoError(t, store.SaveRule(testRule("prop-2", "CCC-333", "vendor")))

	ruleRows, err := store.GetRules("prop-1")
	require.NoError(t, err)
	require.Len(t, ruleRows, 2)
	assert.Less(t, ruleRows[0].ID, ruleRows[1].ID)

	properties, err := store.GetProperties()
	require.NoError(t, err)
	assert.Equal(t, []string{"prop-1", "prop-2"}, properties)
}

func TestSnapshotMetaUpsert(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	meta := &SnapshotMeta{
		PropertyID:  "prop-1",
		Version:     1,
		Fingerprint: "aaaa",
		RuleCount:   3,
		GeneratedAt: time.Now(),
	}
	require.NoError(t, store.SaveSnapshotMeta(meta))

	meta2 := &SnapshotMeta{
		PropertyID:  "prop-1",
		Version:     2,
		Fingerprint: "bbbb",
		RuleCount:   4,
		GeneratedAt: time.Now(),
	}
	require.NoError(t, store.SaveSnapshotMeta(meta2))

	got, err := store.GetSnapshotMeta("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, "bbbb", got.Fingerprint)
	assert.Equal(t, 4, got.RuleCount)
}

func TestSaveDecisionEventIdempotent(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	event := &DecisionEvent{
		PropertyID: "prop-1",
		DeviceID:   "gate-1",
		DeliveryID: "d-001",
		Plate:      "ABC-1234",
		Outcome:    "granted",
		Reason:     "matched allow list",
		DetectedAt: time.Now(),
	}
	inserted, err := store.SaveDecisionEvent(event)
	require.NoError(t, err)
	assert.True(t, inserted, "first insert should create a row")

	dup := *event
	dup.ID = 0
	inserted, err = store.SaveDecisionEvent(&dup)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate delivery should be skipped")

	got, err := store.GetDecisionEvent("gate-1", "d-001")
	require.NoError(t, err)
	assert.Equal(t, "granted", got.Outcome)
}

func TestSaveDecisionEventsBatch(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	now := time.Now()
	events := []DecisionEvent{
		{DeviceID: "gate-1", DeliveryID: "d-1", Outcome: "granted", DetectedAt: now},
		{DeviceID: "gate-1", DeliveryID: "d-2", Outcome: "denied", DetectedAt: now},
	}
	inserted, err := store.SaveDecisionEvents(events)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Second batch repeats one delivery and adds one new
	more := []DecisionEvent{
		{DeviceID: "gate-1", DeliveryID: "d-2", Outcome: "denied", DetectedAt: now},
		{DeviceID: "gate-1", DeliveryID: "d-3", Outcome: "unknown", DetectedAt: now},
	}
	inserted, err = store.SaveDecisionEvents(more)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestSearchDecisionEvents(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	seed := []DecisionEvent{
		{PropertyID: "prop-1", DeviceID: "gate-1", DeliveryID: "d-1", PlateNormalized: "ABC1234", Outcome: "granted", DetectedAt: base},
		{PropertyID: "prop-1", DeviceID: "gate-1", DeliveryID: "d-2", PlateNormalized: "XYZ999", Outcome: "denied", DetectedAt: base.Add(time.Minute)},
		{PropertyID: "prop-2", DeviceID: "gate-9", DeliveryID: "d-3", PlateNormalized: "ABC1234", Outcome: "granted", DetectedAt: base.Add(2 * time.Minute)},
	}
	_, err := store.SaveDecisionEvents(seed)
	require.NoError(t, err)

	t.Run("by property", func(t *testing.T) {
		events, err := store.SearchDecisionEvents(&EventFilter{PropertyID: "prop-1"})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by outcome newest first", func(t *testing.T) {
		events, err := store.SearchDecisionEvents(&EventFilter{Outcome: "granted"})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "d-3", events[0].DeliveryID)
	})

	t.Run("by plate", func(t *testing.T) {
		events, err := store.SearchDecisionEvents(&EventFilter{Plate: "ABC1234"})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by time window", func(t *testing.T) {
		events, err := store.SearchDecisionEvents(&EventFilter{
			Since: base.Add(30 * time.Second),
			Until: base.Add(90 * time.Second),
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "d-2", events[0].DeliveryID)
	})

	t.Run("limit", func(t *testing.T) {
		events, err := store.SearchDecisionEvents(&EventFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestDecisionEventStats(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	now := time.Now()
	seed := []DecisionEvent{
		{PropertyID: "prop-1", DeviceID: "gate-1", DeliveryID: "s-1", Outcome: "granted", DetectedAt: now},
		{PropertyID: "prop-1", DeviceID: "gate-1", DeliveryID: "s-2", Outcome: "granted", DetectedAt: now},
		{PropertyID: "prop-1", DeviceID: "gate-1", DeliveryID: "s-3", Outcome: "denied", DetectedAt: now},
	}
	_, err := store.SaveDecisionEvents(seed)
	require.NoError(t, err)

	stats, err := store.GetDecisionEventStats("prop-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, EventStat{Outcome: "denied", Count: 1}, stats[0])
	assert.Equal(t, EventStat{Outcome: "granted", Count: 2}, stats[1])
}

func TestDeviceStateUpsertAndSweep(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	now := time.Now()
	state := &DeviceState{
		DeviceID:   "gate-1",
		PropertyID: "prop-1",
		Status:     DeviceOnline,
		LastSeenAt: now.Add(-2 * time.Minute),
	}
	require.NoError(t, store.UpsertDeviceState(state))

	// Second upsert for the same device updates in place
	state2 := &DeviceState{
		DeviceID:        "gate-1",
		PropertyID:      "prop-1",
		Status:          DeviceOnline,
		LastSeenAt:      now.Add(-90 * time.Second),
		SnapshotVersion: 7,
	}
	require.NoError(t, store.UpsertDeviceState(state2))

	states, err := store.GetDeviceStates("prop-1")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, uint64(7), states[0].SnapshotVersion)

	changed, err := store.MarkDevicesOffline(now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	got, err := store.GetDeviceState("gate-1")
	require.NoError(t, err)
	assert.Equal(t, DeviceOffline, got.Status)

	// Already offline devices are not swept again
	changed, err = store.MarkDevicesOffline(now)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestReplaceCachedRules(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	meta := &CacheMeta{
		PropertyID:  "prop-1",
		Version:     3,
		Fingerprint: "cafe",
		GeneratedAt: time.Now(),
		SyncedAt:    time.Now(),
	}
	first := []CachedRule{
		{ID: 10, PropertyID: "prop-1", Plate: "AAA-111", PlateNormalized: "AAA111", Category: "allow"},
		{ID: 11, PropertyID: "prop-1", Plate: "BBB-222", PlateNormalized: "BBB222", Category: "deny"},
	}
	require.NoError(t, store.ReplaceCachedRules(meta, first))

	cached, err := store.LoadCachedRules()
	require.NoError(t, err)
	require.Len(t, cached, 2)

	// Replacing with a smaller set removes rows that are no longer present
	meta2 := &CacheMeta{
		PropertyID:  "prop-1",
		Version:     4,
		Fingerprint: "beef",
		GeneratedAt: time.Now(),
		SyncedAt:    time.Now(),
	}
	second := []CachedRule{
		{ID: 11, PropertyID: "prop-1", Plate: "BBB-222", PlateNormalized: "BBB222", Category: "deny"},
	}
	require.NoError(t, store.ReplaceCachedRules(meta2, second))

	cached, err = store.LoadCachedRules()
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, uint(11), cached[0].ID)

	gotMeta, err := store.GetCacheMeta()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), gotMeta.Version)
	assert.Equal(t, "beef", gotMeta.Fingerprint)
}

func TestGetCacheMetaMissing(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	_, err := store.GetCacheMeta()
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRuleRecordConversion(t *testing.T) {
	t.Parallel()

	starts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := rules.Rule{
		ID:         42,
		PropertyID: "prop-1",
		Plate:      "abc-1234",
		Category:   rules.CategoryVisitor,
		Label:      "guest pass",
		StartsAt:   &starts,
		Schedule: &rules.Schedule{
			Days:  []string{"mon", "wed"},
			Start: "08:00",
			End:   "18:00",
		},
	}

	row := RuleFromRecord(&rec)
	assert.Equal(t, "ABC1234", row.PlateNormalized)
	assert.Equal(t, "mon,wed", row.ScheduleDays)

	back := row.ToRecord()
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.Plate, back.Plate)
	assert.Equal(t, rec.Category, back.Category)
	require.NotNil(t, back.Schedule)
	assert.Equal(t, rec.Schedule.Days, back.Schedule.Days)
	assert.Equal(t, rec.Schedule.Start, back.Schedule.Start)

	cachedRow := CachedRuleFromRecord(&rec)
	cachedBack := cachedRow.ToRecord()
	assert.Equal(t, rec.ID, cachedBack.ID)
	require.NotNil(t, cachedBack.Schedule)
	assert.Equal(t, rec.Schedule.End, cachedBack.Schedule.End)
}
