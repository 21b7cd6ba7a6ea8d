// devices.go: device state persistence for the health tracker
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// DeviceStatus values stored in the device state table.
const (
	DeviceOnline  = "online"
	DeviceOffline = "offline"
	DeviceError   = "error"
)

// UpsertDeviceState inserts or updates the state row for a device.
func (ds *DataStore) UpsertDeviceState(state *DeviceState) error {
	state.UpdatedAt = time.Now()
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"property_id", "status", "last_seen_at", "last_error",
			"snapshot_version", "fingerprint", "updated_at",
		}),
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("upserting device state for %s: %w", state.DeviceID, err)
	}
	return nil
}

// GetDeviceState retrieves the state row for a single device.
func (ds *DataStore) GetDeviceState(deviceID string) (DeviceState, error) {
	var state DeviceState
	if err := ds.DB.Where("device_id = ?", deviceID).First(&state).Error; err != nil {
		return DeviceState{}, fmt.Errorf("getting device state for %s: %w", deviceID, err)
	}
	return state, nil
}

// GetDeviceStates lists device states, optionally scoped to a property.
func (ds *DataStore) GetDeviceStates(propertyID string) ([]DeviceState, error) {
	query := ds.DB.Model(&DeviceState{})
	if propertyID != "" {
		query = query.Where("property_id = ?", propertyID)
	}

	var states []DeviceState
	if err := query.Order("device_id").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("getting device states: %w", err)
	}
	return states, nil
}

// MarkDevicesOffline transitions devices whose last contact predates the
// cutoff to offline. Silence past the timeout means offline regardless of
// what the device last reported, so online and error rows are both swept;
// last_error is left in place as the last reported failure. It returns the
// number of rows changed.
func (ds *DataStore) MarkDevicesOffline(cutoff time.Time) (int64, error) {
	result := ds.DB.Model(&DeviceState{}).
		Where("status IN ? AND last_seen_at < ?", []string{DeviceOnline, DeviceError}, cutoff).
		Updates(map[string]any{
			"status":     DeviceOffline,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("marking devices offline: %w", result.Error)
	}
	return result.RowsAffected, nil
}
