// model.go this code defines the data model for the application
package datastore

import (
	"strings"
	"time"

	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/rules"
)

// Rule is the stored form of a canonical access rule. The schedule is kept
// as flat columns so the table stays queryable without JSON support.
type Rule struct {
	ID              uint   `gorm:"primaryKey"`
	PropertyID      string `gorm:"index:idx_rules_property;not null"`
	Plate           string `gorm:"not null"`
	PlateNormalized string `gorm:"index:idx_rules_plate"`
	Category        string `gorm:"type:varchar(10);not null"`
	Label           string
	StartsAt        *time.Time
	ExpiresAt       *time.Time
	ScheduleDays    string `gorm:"type:varchar(30)"`
	ScheduleStart   string `gorm:"type:varchar(5)"`
	ScheduleEnd     string `gorm:"type:varchar(5)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ToRecord converts a stored rule into its evaluation form.
func (r *Rule) ToRecord() rules.Rule {
	rec := rules.Rule{
		ID:         r.ID,
		PropertyID: r.PropertyID,
		Plate:      r.Plate,
		Category:   rules.Category(r.Category),
		Label:      r.Label,
		StartsAt:   r.StartsAt,
		ExpiresAt:  r.ExpiresAt,
	}
	if r.ScheduleDays != "" {
		rec.Schedule = &rules.Schedule{
			Days:  strings.Split(r.ScheduleDays, ","),
			Start: r.ScheduleStart,
			End:   r.ScheduleEnd,
		}
	}
	return rec
}

// RuleFromRecord converts an evaluation rule into its stored form.
func RuleFromRecord(rec *rules.Rule) Rule {
	r := Rule{
		ID:              rec.ID,
		PropertyID:      rec.PropertyID,
		Plate:           rec.Plate,
		PlateNormalized: rules.NormalizePlate(rec.Plate),
		Category:        string(rec.Category),
		Label:           rec.Label,
		StartsAt:        rec.StartsAt,
		ExpiresAt:       rec.ExpiresAt,
	}
	if rec.Schedule != nil {
		r.ScheduleDays = strings.Join(rec.Schedule.Days, ",")
		r.ScheduleStart = rec.Schedule.Start
		r.ScheduleEnd = rec.Schedule.End
	}
	return r
}

// SnapshotMeta records the published snapshot for a property. A new version
// and fingerprint are written on every rule mutation.
type SnapshotMeta struct {
	ID          uint   `gorm:"primaryKey"`
	PropertyID  string `gorm:"uniqueIndex:idx_snapshots_property;not null"`
	Version     uint64 `gorm:"not null"`
	Fingerprint string `gorm:"type:varchar(64);not null"`
	RuleCount   int
	GeneratedAt time.Time
	UpdatedAt   time.Time
}

// DecisionEvent is one decision record. The unique index on device and
// delivery identifiers makes reporting idempotent.
type DecisionEvent struct {
	ID              uint      `gorm:"primaryKey"`
	PropertyID      string    `gorm:"index:idx_events_property"`
	DeviceID        string    `gorm:"uniqueIndex:idx_events_device_delivery;index:idx_events_device"`
	DeliveryID      string    `gorm:"uniqueIndex:idx_events_device_delivery"`
	Plate           string
	PlateNormalized string `gorm:"index:idx_events_plate"`
	Confidence      float64
	Outcome         string `gorm:"type:varchar(10);index:idx_events_outcome"`
	Reason          string
	MatchedRuleID   uint
	MatchedCategory string `gorm:"type:varchar(10)"`
	SnapshotVersion uint64
	Stale           bool
	Source          string    `gorm:"type:varchar(10)"`
	DetectedAt      time.Time `gorm:"index:idx_events_detected_at"`
	ReportedAt      time.Time
}

// EventFromRecord converts a decision record into its stored form, stamping
// the moment the row was written.
func EventFromRecord(rec *decision.Record) DecisionEvent {
	return DecisionEvent{
		PropertyID:      rec.PropertyID,
		DeviceID:        rec.DeviceID,
		DeliveryID:      rec.DeliveryID,
		Plate:           rec.Plate,
		PlateNormalized: rec.NormalizedPlate,
		Confidence:      rec.Confidence,
		Outcome:         string(rec.Outcome),
		Reason:          rec.Reason,
		MatchedRuleID:   rec.MatchedRuleID,
		MatchedCategory: rec.MatchedCategory,
		SnapshotVersion: rec.SnapshotVersion,
		Stale:           rec.Stale,
		Source:          rec.Source,
		DetectedAt:      rec.DetectedAt,
		ReportedAt:      time.Now().UTC(),
	}
}

// ToRecord converts a stored decision event back into its wire form.
func (e *DecisionEvent) ToRecord() decision.Record {
	return decision.Record{
		DeviceID:        e.DeviceID,
		DeliveryID:      e.DeliveryID,
		PropertyID:      e.PropertyID,
		Plate:           e.Plate,
		NormalizedPlate: e.PlateNormalized,
		Confidence:      e.Confidence,
		Outcome:         decision.Outcome(e.Outcome),
		Reason:          e.Reason,
		MatchedRuleID:   e.MatchedRuleID,
		MatchedCategory: e.MatchedCategory,
		SnapshotVersion: e.SnapshotVersion,
		Stale:           e.Stale,
		Source:          e.Source,
		DetectedAt:      e.DetectedAt,
	}
}

// DeviceState is the last known condition of an edge device as seen by the
// cloud heartbeat endpoint and the offline sweeper.
type DeviceState struct {
	ID              uint   `gorm:"primaryKey"`
	DeviceID        string `gorm:"uniqueIndex:idx_devices_device_id;not null"`
	PropertyID      string `gorm:"index:idx_devices_property"`
	Status          string `gorm:"type:varchar(10)"`
	LastSeenAt      time.Time
	LastError       string
	SnapshotVersion uint64
	Fingerprint     string `gorm:"type:varchar(64)"`
	UpdatedAt       time.Time
}

// CachedRule is the edge-local copy of a rule. Rows carry the canonical rule
// ID, so the primary key is assigned rather than auto-incremented, and the
// whole table is replaced when a new snapshot is adopted.
type CachedRule struct {
	ID              uint   `gorm:"primaryKey;autoIncrement:false"`
	PropertyID      string `gorm:"index:idx_cached_rules_property"`
	Plate           string
	PlateNormalized string `gorm:"index:idx_cached_rules_plate"`
	Category        string `gorm:"type:varchar(10)"`
	Label           string
	StartsAt        *time.Time
	ExpiresAt       *time.Time
	ScheduleDays    string `gorm:"type:varchar(30)"`
	ScheduleStart   string `gorm:"type:varchar(5)"`
	ScheduleEnd     string `gorm:"type:varchar(5)"`
}

// ToRecord converts a cached rule into its evaluation form.
func (c *CachedRule) ToRecord() rules.Rule {
	rec := rules.Rule{
		ID:         c.ID,
		PropertyID: c.PropertyID,
		Plate:      c.Plate,
		Category:   rules.Category(c.Category),
		Label:      c.Label,
		StartsAt:   c.StartsAt,
		ExpiresAt:  c.ExpiresAt,
	}
	if c.ScheduleDays != "" {
		rec.Schedule = &rules.Schedule{
			Days:  strings.Split(c.ScheduleDays, ","),
			Start: c.ScheduleStart,
			End:   c.ScheduleEnd,
		}
	}
	return rec
}

// CachedRuleFromRecord converts an evaluation rule into its cached form.
func CachedRuleFromRecord(rec *rules.Rule) CachedRule {
	c := CachedRule{
		ID:              rec.ID,
		PropertyID:      rec.PropertyID,
		Plate:           rec.Plate,
		PlateNormalized: rules.NormalizePlate(rec.Plate),
		Category:        string(rec.Category),
		Label:           rec.Label,
		StartsAt:        rec.StartsAt,
		ExpiresAt:       rec.ExpiresAt,
	}
	if rec.Schedule != nil {
		c.ScheduleDays = strings.Join(rec.Schedule.Days, ",")
		c.ScheduleStart = rec.Schedule.Start
		c.ScheduleEnd = rec.Schedule.End
	}
	return c
}

// CacheMeta is the single-row bookkeeping table for the edge rule cache.
type CacheMeta struct {
	ID          uint `gorm:"primaryKey"`
	PropertyID  string
	Version     uint64
	Fingerprint string `gorm:"type:varchar(64)"`
	GeneratedAt time.Time
	SyncedAt    time.Time
}
