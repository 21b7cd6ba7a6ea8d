// Package rulestore owns the canonical rule set on the cloud side. Every
// mutation republishes the affected property's snapshot metadata (version
// and fingerprint), which is what edge devices probe against.
package rulestore

import (
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/rules"
)

// probeCacheTTL bounds how long a probe answer can outlive a write that did
// not go through this store, such as a manual database edit. Writes through
// the store invalidate immediately.
const probeCacheTTL = 10 * time.Second

// SnapshotInfo is the fingerprint probe response for a property.
type SnapshotInfo struct {
	PropertyID  string    `json:"property_id"`
	Version     uint64    `json:"version"`
	Fingerprint string    `json:"fingerprint"`
	RuleCount   int       `json:"rule_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Store wraps the datastore with snapshot republishing. Mutations are
// serialized so concurrent edits cannot interleave a republish with a stale
// read of the rule set.
type Store struct {
	ds     datastore.Interface
	logger *slog.Logger

	// probeCache absorbs the per-device fingerprint polls between
	// mutations. Every device probes once a minute; rule edits are rare.
	probeCache *gocache.Cache

	mu sync.Mutex
}

// New creates a rule store on top of the given datastore.
func New(ds datastore.Interface) *Store {
	return &Store{
		ds:         ds,
		logger:     logging.ForService("rulestore"),
		probeCache: gocache.New(probeCacheTTL, 2*probeCacheTTL),
	}
}

// CreateRule validates and persists a new rule, then republishes the
// property snapshot. The stored rule with its assigned ID is returned.
func (s *Store) CreateRule(rec *rules.Rule) (rules.Rule, error) {
	if err := rec.Validate(); err != nil {
		return rules.Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := datastore.RuleFromRecord(rec)
	row.ID = 0
	if err := s.ds.SaveRule(&row); err != nil {
		return rules.Rule{}, errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "create-rule").
			Context("property_id", rec.PropertyID).
			Build()
	}

	if err := s.republish(rec.PropertyID); err != nil {
		return rules.Rule{}, err
	}
	return row.ToRecord(), nil
}

// CreateRules persists a batch of rules for one property with a single
// republish at the end.
func (s *Store) CreateRules(propertyID string, recs []rules.Rule) ([]rules.Rule, error) {
	for i := range recs {
		recs[i].PropertyID = propertyID
		if err := recs[i].Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]rules.Rule, 0, len(recs))
	for i := range recs {
		row := datastore.RuleFromRecord(&recs[i])
		row.ID = 0
		if err := s.ds.SaveRule(&row); err != nil {
			return nil, errors.New(err).
				Component("rulestore").
				Category(errors.CategoryRuleStore).
				Context("operation", "create-rules").
				Context("property_id", propertyID).
				Build()
		}
		saved = append(saved, row.ToRecord())
	}

	if err := s.republish(propertyID); err != nil {
		return nil, err
	}
	return saved, nil
}

// UpdateRule replaces an existing rule and republishes. When the update
// moves the rule to another property, both properties are republished.
func (s *Store) UpdateRule(rec *rules.Rule) (rules.Rule, error) {
	if err := rec.Validate(); err != nil {
		return rules.Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.ds.GetRule(rec.ID)
	if err != nil {
		return rules.Rule{}, errors.New(err).
			Component("rulestore").
			Category(errors.CategoryNotFound).
			Context("operation", "update-rule").
			Context("rule_id", rec.ID).
			Build()
	}

	row := datastore.RuleFromRecord(rec)
	if err := s.ds.UpdateRule(&row); err != nil {
		return rules.Rule{}, errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "update-rule").
			Context("rule_id", rec.ID).
			Build()
	}

	if err := s.republish(rec.PropertyID); err != nil {
		return rules.Rule{}, err
	}
	if existing.PropertyID != rec.PropertyID {
		if err := s.republish(existing.PropertyID); err != nil {
			return rules.Rule{}, err
		}
	}
	return row.ToRecord(), nil
}

// DeleteRule removes a rule and republishes its property.
func (s *Store) DeleteRule(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.ds.GetRule(id)
	if err != nil {
		return errors.New(err).
			Component("rulestore").
			Category(errors.CategoryNotFound).
			Context("operation", "delete-rule").
			Context("rule_id", id).
			Build()
	}

	if err := s.ds.DeleteRule(id); err != nil {
		return errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "delete-rule").
			Context("rule_id", id).
			Build()
	}

	return s.republish(existing.PropertyID)
}

// GetRule retrieves a single rule by ID.
func (s *Store) GetRule(id uint) (rules.Rule, error) {
	row, err := s.ds.GetRule(id)
	if err != nil {
		return rules.Rule{}, errors.New(err).
			Component("rulestore").
			Category(errors.CategoryNotFound).
			Context("operation", "get-rule").
			Context("rule_id", id).
			Build()
	}
	return row.ToRecord(), nil
}

// ListRules returns all rules for a property ordered by ID.
func (s *Store) ListRules(propertyID string) ([]rules.Rule, error) {
	rows, err := s.ds.GetRules(propertyID)
	if err != nil {
		return nil, errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "list-rules").
			Context("property_id", propertyID).
			Build()
	}
	recs := make([]rules.Rule, 0, len(rows))
	for i := range rows {
		recs = append(recs, rows[i].ToRecord())
	}
	return recs, nil
}

// Probe returns the published snapshot metadata for a property. A property
// that has never had rules reports version 0 with the empty-set fingerprint.
// Answers are cached; mutations through this store invalidate on republish.
func (s *Store) Probe(propertyID string) (SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.probeCache.Get(propertyID); ok {
		if info, ok := cached.(SnapshotInfo); ok {
			return info, nil
		}
	}

	meta, err := s.ds.GetSnapshotMeta(propertyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			info := emptyInfo(propertyID)
			s.probeCache.SetDefault(propertyID, info)
			return info, nil
		}
		return SnapshotInfo{}, errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "probe").
			Context("property_id", propertyID).
			Build()
	}

	info := SnapshotInfo{
		PropertyID:  meta.PropertyID,
		Version:     meta.Version,
		Fingerprint: meta.Fingerprint,
		RuleCount:   meta.RuleCount,
		GeneratedAt: meta.GeneratedAt,
	}
	s.probeCache.SetDefault(propertyID, info)
	return info, nil
}

// Snapshot materializes the full published snapshot for a property.
func (s *Store) Snapshot(propertyID string) (*rules.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(propertyID)
}

func (s *Store) snapshotLocked(propertyID string) (*rules.Snapshot, error) {
	rows, err := s.ds.GetRules(propertyID)
	if err != nil {
		return nil, errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "snapshot").
			Context("property_id", propertyID).
			Build()
	}

	recs := make([]rules.Rule, 0, len(rows))
	for i := range rows {
		recs = append(recs, rows[i].ToRecord())
	}

	meta, err := s.ds.GetSnapshotMeta(propertyID)
	if err != nil {
		// Property without a published snapshot yet, serve version 0.
		return rules.BuildSnapshot(propertyID, 0, time.Now().UTC(), recs), nil
	}
	return rules.BuildSnapshot(propertyID, meta.Version, meta.GeneratedAt, recs), nil
}

// republish recomputes and stores the snapshot metadata for a property,
// bumping the version. Callers must hold the mutation lock.
func (s *Store) republish(propertyID string) error {
	rows, err := s.ds.GetRules(propertyID)
	if err != nil {
		return errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "republish").
			Context("property_id", propertyID).
			Build()
	}

	recs := make([]rules.Rule, 0, len(rows))
	for i := range rows {
		recs = append(recs, rows[i].ToRecord())
	}
	fingerprint := rules.Fingerprint(recs)

	var version uint64 = 1
	if meta, err := s.ds.GetSnapshotMeta(propertyID); err == nil {
		version = meta.Version + 1
	}

	meta := datastore.SnapshotMeta{
		PropertyID:  propertyID,
		Version:     version,
		Fingerprint: fingerprint,
		RuleCount:   len(recs),
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.ds.SaveSnapshotMeta(&meta); err != nil {
		return errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "republish").
			Context("property_id", propertyID).
			Build()
	}
	s.probeCache.Delete(propertyID)

	s.logger.Info("published rule snapshot",
		"property_id", propertyID,
		"version", version,
		"fingerprint", fingerprint,
		"rule_count", len(recs))
	return nil
}

// Reconcile verifies the stored snapshot metadata of every property against
// the rule set and republishes where the fingerprint drifted, for example
// after a manual database edit. It returns the number of republished
// properties.
func (s *Store) Reconcile() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	properties, err := s.ds.GetProperties()
	if err != nil {
		return 0, errors.New(err).
			Component("rulestore").
			Category(errors.CategoryRuleStore).
			Context("operation", "reconcile").
			Build()
	}

	republished := 0
	for _, propertyID := range properties {
		rows, err := s.ds.GetRules(propertyID)
		if err != nil {
			return republished, errors.New(err).
				Component("rulestore").
				Category(errors.CategoryRuleStore).
				Context("operation", "reconcile").
				Context("property_id", propertyID).
				Build()
		}
		recs := make([]rules.Rule, 0, len(rows))
		for i := range rows {
			recs = append(recs, rows[i].ToRecord())
		}
		fingerprint := rules.Fingerprint(recs)

		meta, err := s.ds.GetSnapshotMeta(propertyID)
		if err == nil && meta.Fingerprint == fingerprint {
			continue
		}

		if err := s.republish(propertyID); err != nil {
			return republished, err
		}
		republished++
	}
	return republished, nil
}

func emptyInfo(propertyID string) SnapshotInfo {
	return SnapshotInfo{
		PropertyID:  propertyID,
		Version:     0,
		Fingerprint: rules.Fingerprint(nil),
		RuleCount:   0,
		GeneratedAt: time.Time{},
	}
}
