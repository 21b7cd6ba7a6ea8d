// events.go: decision event persistence and queries
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// Event listing limits. Callers asking for more than maxEventPageSize rows
// get capped rather than rejected.
const (
	defaultEventPageSize = 100
	maxEventPageSize     = 1000
)

// EventFilter narrows decision event queries. Zero values mean "any".
type EventFilter struct {
	PropertyID string
	DeviceID   string
	Plate      string // normalized form
	Outcome    string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// EventStat is one row of the per-outcome event summary.
type EventStat struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// SaveDecisionEvent inserts a decision event. A duplicate device and delivery
// pair is silently skipped, the returned bool reports whether a row was
// actually inserted.
func (ds *DataStore) SaveDecisionEvent(event *DecisionEvent) (bool, error) {
	result := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "delivery_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("saving decision event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SaveDecisionEvents inserts a batch of decision events, skipping duplicates.
// It returns the number of rows actually inserted.
func (ds *DataStore) SaveDecisionEvents(events []DecisionEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	result := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "delivery_id"}},
		DoNothing: true,
	}).CreateInBatches(events, 100)
	if result.Error != nil {
		return 0, fmt.Errorf("saving decision events: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// GetDecisionEvent retrieves a single event by its device and delivery pair.
func (ds *DataStore) GetDecisionEvent(deviceID, deliveryID string) (DecisionEvent, error) {
	var event DecisionEvent
	if err := ds.DB.Where("device_id = ? AND delivery_id = ?", deviceID, deliveryID).
		First(&event).Error; err != nil {
		return DecisionEvent{}, fmt.Errorf("getting decision event %s/%s: %w", deviceID, deliveryID, err)
	}
	return event, nil
}

// SearchDecisionEvents returns events matching the filter, newest first.
func (ds *DataStore) SearchDecisionEvents(filter *EventFilter) ([]DecisionEvent, error) {
	query := ds.DB.Model(&DecisionEvent{})

	if filter.PropertyID != "" {
		query = query.Where("property_id = ?", filter.PropertyID)
	}
	if filter.DeviceID != "" {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Plate != "" {
		query = query.Where("plate_normalized = ?", filter.Plate)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}
	if !filter.Since.IsZero() {
		query = query.Where("detected_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("detected_at < ?", filter.Until)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}

	var events []DecisionEvent
	if err := query.Order("detected_at DESC").Limit(limit).Offset(filter.Offset).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("searching decision events: %w", err)
	}
	return events, nil
}

// GetDecisionEventStats returns per-outcome counts, optionally scoped to a
// property and a start time.
func (ds *DataStore) GetDecisionEventStats(propertyID string, since time.Time) ([]EventStat, error) {
	query := ds.DB.Model(&DecisionEvent{}).Select("outcome, count(*) as count")
	if propertyID != "" {
		query = query.Where("property_id = ?", propertyID)
	}
	if !since.IsZero() {
		query = query.Where("detected_at >= ?", since)
	}

	var stats []EventStat
	if err := query.Group("outcome").Order("outcome").Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("getting decision event stats: %w", err)
	}
	return stats, nil
}

// GetRecentDecisionEvents returns the most recent events across all
// properties, newest first.
func (ds *DataStore) GetRecentDecisionEvents(limit int) ([]DecisionEvent, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}

	var events []DecisionEvent
	if err := ds.DB.Order("detected_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("getting recent decision events: %w", err)
	}
	return events, nil
}
