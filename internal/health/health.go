// Package health tracks edge device liveness on the cloud side. Devices
// report in through heartbeats; a periodic sweep marks devices silent past
// the offline timeout.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/observability/metrics"
)

// Beat is one heartbeat as received from an edge device.
type Beat struct {
	DeviceID        string `json:"device_id"`
	PropertyID      string `json:"property_id"`
	Status          string `json:"status"`
	SnapshotVersion uint64 `json:"snapshot_version"`
	Fingerprint     string `json:"fingerprint,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	LocalIP         string `json:"local_ip,omitempty"`
	Firmware        string `json:"firmware,omitempty"`
}

// Tracker ingests heartbeats and sweeps for silent devices.
type Tracker struct {
	ds             datastore.Interface
	logger         *slog.Logger
	metrics        *metrics.HealthMetrics
	offlineTimeout time.Duration
	sweepInterval  time.Duration
}

// NewTracker creates a device health tracker from the cloud settings.
func NewTracker(ds datastore.Interface, settings *conf.Settings) *Tracker {
	hc := &settings.Cloud.Health
	return &Tracker{
		ds:             ds,
		logger:         logging.ForService("health"),
		offlineTimeout: time.Duration(hc.OfflineTimeoutSeconds) * time.Second,
		sweepInterval:  time.Duration(hc.SweepIntervalSeconds) * time.Second,
	}
}

// SetMetrics attaches health metrics. Must be called before Start.
func (t *Tracker) SetMetrics(m *metrics.HealthMetrics) {
	t.metrics = m
}

// RecordHeartbeat stores a device's reported state and returns the row as
// persisted. A device reporting online clears any previously reported error.
func (t *Tracker) RecordHeartbeat(beat *Beat) (datastore.DeviceState, error) {
	if beat.DeviceID == "" {
		return datastore.DeviceState{}, errors.Newf("heartbeat missing device id").
			Component("health").
			Category(errors.CategoryValidation).
			Build()
	}

	status := normalizeStatus(beat.Status)
	lastError := beat.LastError
	if status == datastore.DeviceOnline {
		lastError = ""
	}

	previousStatus := ""
	if previous, err := t.ds.GetDeviceState(beat.DeviceID); err == nil {
		previousStatus = previous.Status
	}

	state := datastore.DeviceState{
		DeviceID:        beat.DeviceID,
		PropertyID:      beat.PropertyID,
		Status:          status,
		LastSeenAt:      time.Now(),
		LastError:       lastError,
		SnapshotVersion: beat.SnapshotVersion,
		Fingerprint:     beat.Fingerprint,
	}
	if err := t.ds.UpsertDeviceState(&state); err != nil {
		return datastore.DeviceState{}, errors.New(err).
			Component("health").
			Category(errors.CategoryDatabase).
			Context("device_id", beat.DeviceID).
			Build()
	}

	if t.metrics != nil {
		t.metrics.IncrementHeartbeats()
		if previousStatus != status {
			t.metrics.RecordStatusTransition(status)
		}
	}

	t.logger.Debug("heartbeat recorded",
		"device_id", beat.DeviceID,
		"property_id", beat.PropertyID,
		"status", status,
		"snapshot_version", beat.SnapshotVersion)
	return state, nil
}

// TouchDevice refreshes a device's last-seen time from observed sync
// traffic. A snapshot or fingerprint fetch is contact just like a heartbeat,
// so a device whose heartbeat channel is broken but which still polls rules
// must not be swept offline. A device already marked offline comes back
// online; a device in error keeps its reported error until a heartbeat
// clears it.
func (t *Tracker) TouchDevice(deviceID, propertyID string) error {
	if deviceID == "" {
		return nil
	}

	state, err := t.ds.GetDeviceState(deviceID)
	if err != nil {
		// First contact through the sync channel, before any heartbeat.
		state = datastore.DeviceState{
			DeviceID: deviceID,
			Status:   datastore.DeviceOnline,
		}
	}
	if propertyID != "" {
		state.PropertyID = propertyID
	}
	previousStatus := state.Status
	if state.Status == datastore.DeviceOffline {
		state.Status = datastore.DeviceOnline
	}
	state.LastSeenAt = time.Now()

	if err := t.ds.UpsertDeviceState(&state); err != nil {
		return errors.New(err).
			Component("health").
			Category(errors.CategoryDatabase).
			Context("device_id", deviceID).
			Build()
	}

	if t.metrics != nil && previousStatus != state.Status {
		t.metrics.RecordStatusTransition(state.Status)
	}
	return nil
}

// Device returns the tracked state for one device.
func (t *Tracker) Device(deviceID string) (datastore.DeviceState, error) {
	return t.ds.GetDeviceState(deviceID)
}

// Devices lists tracked devices, optionally scoped to a property.
func (t *Tracker) Devices(propertyID string) ([]datastore.DeviceState, error) {
	return t.ds.GetDeviceStates(propertyID)
}

// Sweep marks devices silent past the offline timeout as offline and
// refreshes the per-status gauges. It returns the number of devices
// transitioned.
func (t *Tracker) Sweep() (int64, error) {
	cutoff := time.Now().Add(-t.offlineTimeout)
	transitioned, err := t.ds.MarkDevicesOffline(cutoff)
	if err != nil {
		return 0, errors.New(err).
			Component("health").
			Category(errors.CategoryDatabase).
			Context("operation", "offline_sweep").
			Build()
	}

	if t.metrics != nil {
		t.metrics.IncrementSweeps()
		if transitioned > 0 {
			t.metrics.AddStatusTransitions(datastore.DeviceOffline, transitioned)
		}
		t.refreshGauges()
	}

	if transitioned > 0 {
		t.logger.Info("devices marked offline",
			"count", transitioned,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return transitioned, nil
}

// Start launches the periodic offline sweep. It stops when the context is
// canceled.
func (t *Tracker) Start(ctx context.Context) {
	go t.run(ctx)
}

func (t *Tracker) run(ctx context.Context) {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Sweep(); err != nil {
				t.logger.Warn("offline sweep failed", "error", err)
			}
		}
	}
}

func (t *Tracker) refreshGauges() {
	states, err := t.ds.GetDeviceStates("")
	if err != nil {
		t.logger.Warn("device gauge refresh failed", "error", err)
		return
	}

	counts := map[string]int{
		datastore.DeviceOnline:  0,
		datastore.DeviceOffline: 0,
		datastore.DeviceError:   0,
	}
	for i := range states {
		counts[states[i].Status]++
	}
	for status, count := range counts {
		t.metrics.SetDevicesByStatus(status, count)
	}
}

// normalizeStatus maps a reported status onto the stored vocabulary. Devices
// report online or error; offline is only ever assigned by the sweep.
func normalizeStatus(status string) string {
	switch status {
	case datastore.DeviceError:
		return datastore.DeviceError
	default:
		return datastore.DeviceOnline
	}
}
