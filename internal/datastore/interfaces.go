// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/errors"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// operations available to the rest of the application.
type Interface interface {
	Open() error
	Close() error

	// rule administration
	SaveRule(rule *Rule) error
	UpdateRule(rule *Rule) error
	DeleteRule(id uint) error
	GetRule(id uint) (Rule, error)
	GetRules(propertyID string) ([]Rule, error)
	GetProperties() ([]string, error)

	// published snapshot bookkeeping
	SaveSnapshotMeta(meta *SnapshotMeta) error
	GetSnapshotMeta(propertyID string) (SnapshotMeta, error)

	// decision events
	SaveDecisionEvent(event *DecisionEvent) (bool, error)
	SaveDecisionEvents(events []DecisionEvent) (int, error)
	GetDecisionEvent(deviceID, deliveryID string) (DecisionEvent, error)
	SearchDecisionEvents(filter *EventFilter) ([]DecisionEvent, error)
	GetDecisionEventStats(propertyID string, since time.Time) ([]EventStat, error)
	GetRecentDecisionEvents(limit int) ([]DecisionEvent, error)

	// device health
	UpsertDeviceState(state *DeviceState) error
	GetDeviceState(deviceID string) (DeviceState, error)
	GetDeviceStates(propertyID string) ([]DeviceState, error)
	MarkDevicesOffline(cutoff time.Time) (int64, error)

	// edge rule cache
	ReplaceCachedRules(meta *CacheMeta, cached []CachedRule) error
	LoadCachedRules() ([]CachedRule, error)
	GetCacheMeta() (CacheMeta, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
			Path:     settings.Output.SQLite.Path,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// NewCacheStore creates the SQLite-backed store used for the edge rule cache.
func NewCacheStore(settings *conf.Settings) Interface {
	return &SQLiteStore{
		Settings: settings,
		Path:     settings.Edge.Cache.Path,
	}
}

// SaveRule stores a new rule in the database.
func (ds *DataStore) SaveRule(rule *Rule) error {
	if err := ds.DB.Create(rule).Error; err != nil {
		return fmt.Errorf("saving rule: %w", err)
	}
	return nil
}

// UpdateRule replaces all columns of an existing rule.
func (ds *DataStore) UpdateRule(rule *Rule) error {
	result := ds.DB.Model(&Rule{}).Where("id = ?", rule.ID).Updates(map[string]any{
		"property_id":      rule.PropertyID,
		"plate":            rule.Plate,
		"plate_normalized": rule.PlateNormalized,
		"category":         rule.Category,
		"label":            rule.Label,
		"starts_at":        rule.StartsAt,
		"expires_at":       rule.ExpiresAt,
		"schedule_days":    rule.ScheduleDays,
		"schedule_start":   rule.ScheduleStart,
		"schedule_end":     rule.ScheduleEnd,
	})
	if result.Error != nil {
		return fmt.Errorf("updating rule %d: %w", rule.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteRule removes a rule by its ID.
func (ds *DataStore) DeleteRule(id uint) error {
	result := ds.DB.Delete(&Rule{}, id)
	if result.Error != nil {
		return fmt.Errorf("deleting rule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetRule retrieves a rule by its ID.
func (ds *DataStore) GetRule(id uint) (Rule, error) {
	var rule Rule
	if err := ds.DB.First(&rule, id).Error; err != nil {
		return Rule{}, fmt.Errorf("getting rule %d: %w", id, err)
	}
	return rule, nil
}

// GetRules retrieves all rules for a property ordered by ID.
func (ds *DataStore) GetRules(propertyID string) ([]Rule, error) {
	var ruleRows []Rule
	if err := ds.DB.Where("property_id = ?", propertyID).Order("id").Find(&ruleRows).Error; err != nil {
		return nil, fmt.Errorf("getting rules for property %s: %w", propertyID, err)
	}
	return ruleRows, nil
}

// GetProperties returns the distinct property IDs that have rules.
func (ds *DataStore) GetProperties() ([]string, error) {
	var properties []string
	if err := ds.DB.Model(&Rule{}).Distinct("property_id").Order("property_id").
		Pluck("property_id", &properties).Error; err != nil {
		return nil, fmt.Errorf("getting properties: %w", err)
	}
	return properties, nil
}

// SaveSnapshotMeta upserts the published snapshot record for a property.
func (ds *DataStore) SaveSnapshotMeta(meta *SnapshotMeta) error {
	var existing SnapshotMeta
	err := ds.DB.Where("property_id = ?", meta.PropertyID).First(&existing).Error
	switch {
	case err == nil:
		meta.ID = existing.ID
		if err := ds.DB.Save(meta).Error; err != nil {
			return fmt.Errorf("updating snapshot meta for property %s: %w", meta.PropertyID, err)
		}
	case isRecordNotFound(err):
		if err := ds.DB.Create(meta).Error; err != nil {
			return fmt.Errorf("saving snapshot meta for property %s: %w", meta.PropertyID, err)
		}
	default:
		return fmt.Errorf("looking up snapshot meta for property %s: %w", meta.PropertyID, err)
	}
	return nil
}

// GetSnapshotMeta retrieves the published snapshot record for a property.
func (ds *DataStore) GetSnapshotMeta(propertyID string) (SnapshotMeta, error) {
	var meta SnapshotMeta
	if err := ds.DB.Where("property_id = ?", propertyID).First(&meta).Error; err != nil {
		return SnapshotMeta{}, fmt.Errorf("getting snapshot meta for property %s: %w", propertyID, err)
	}
	return meta, nil
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
