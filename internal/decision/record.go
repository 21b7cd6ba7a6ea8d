// record.go: the decision record shared between edge reporting and cloud
// event ingestion.
package decision

import "time"

// Detection sources recorded on decision records.
const (
	SourceWebhook = "webhook"
	SourceMQTT    = "mqtt"
	SourceManual  = "manual"
	SourceCloud   = "cloud"
)

// Record is one decision record. The edge pipeline produces exactly one per
// accepted detection, reports it to the cloud, and the cloud stores it. The
// device and delivery identifier pair makes re-delivery idempotent.
type Record struct {
	DeviceID         string    `json:"device_id"`
	DeliveryID       string    `json:"delivery_id"`
	PropertyID       string    `json:"property_id"`
	Plate            string    `json:"plate"`
	NormalizedPlate  string    `json:"normalized_plate"`
	Confidence       float64   `json:"confidence"`
	Outcome          Outcome   `json:"outcome"`
	Reason           string    `json:"reason"`
	MatchedRuleID    uint      `json:"matched_rule_id,omitempty"`
	MatchedCategory  string    `json:"matched_category,omitempty"`
	SnapshotVersion  uint64    `json:"snapshot_version,omitempty"`
	Stale            bool      `json:"stale,omitempty"`
	Source           string    `json:"source"`
	DetectedAt       time.Time `json:"detected_at"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`
}
