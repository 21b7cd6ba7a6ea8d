package service

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/rulestore"
)

// CheckOptions parametrize a one-shot plate evaluation.
type CheckOptions struct {
	Plate      string
	PropertyID string
	Confidence float64
	JSON       bool
}

// checkOutput is the machine-readable shape of a check result.
type checkOutput struct {
	Plate           string  `json:"plate"`
	NormalizedPlate string  `json:"normalized_plate"`
	PropertyID      string  `json:"property_id"`
	Confidence      float64 `json:"confidence"`
	Outcome         string  `json:"outcome"`
	Reason          string  `json:"reason"`
	MatchedRuleID   uint    `json:"matched_rule_id,omitempty"`
	MatchedCategory string  `json:"matched_category,omitempty"`
	SnapshotVersion uint64  `json:"snapshot_version"`
	Fingerprint     string  `json:"fingerprint"`
}

// RunCheck evaluates one plate against the canonical rule store and writes
// the outcome to w. It answers "what would the gate do right now" without
// involving any device, so the canonical snapshot is never treated as stale.
func RunCheck(settings *conf.Settings, opts CheckOptions, w io.Writer) error {
	if opts.PropertyID == "" {
		return errors.Newf("a property id is required, set --property or edge.propertyid").
			Component("service").
			Category(errors.CategoryValidation).
			Context("operation", "check").
			Build()
	}

	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()

	snap, err := rulestore.New(ds).Snapshot(opts.PropertyID)
	if err != nil {
		return err
	}

	res := decision.Evaluate(snap, decision.Input{
		Plate:      opts.Plate,
		Confidence: opts.Confidence,
		Timestamp:  time.Now(),
	}, decision.Config{
		ConfidenceThreshold: settings.Decision.ConfidenceThreshold,
	})

	out := checkOutput{
		Plate:           opts.Plate,
		NormalizedPlate: res.NormalizedPlate,
		PropertyID:      opts.PropertyID,
		Confidence:      opts.Confidence,
		Outcome:         string(res.Outcome),
		Reason:          res.Reason,
		MatchedRuleID:   res.MatchedRuleID,
		MatchedCategory: string(res.MatchedCategory),
		SnapshotVersion: snap.Version,
		Fingerprint:     snap.Fingerprint,
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "plate:      %s (%s)\n", out.Plate, out.NormalizedPlate)
	fmt.Fprintf(w, "property:   %s\n", out.PropertyID)
	fmt.Fprintf(w, "outcome:    %s\n", out.Outcome)
	fmt.Fprintf(w, "reason:     %s\n", out.Reason)
	if out.MatchedRuleID != 0 {
		fmt.Fprintf(w, "rule:       #%d (%s)\n", out.MatchedRuleID, out.MatchedCategory)
	}
	fmt.Fprintf(w, "snapshot:   v%d %s\n", out.SnapshotVersion, out.Fingerprint)
	return nil
}
