package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Snapshot is an immutable, versioned, fingerprinted copy of one property's
// full rule set. Rules are held in canonical order (ascending id). Readers
// share snapshots freely; nothing mutates one after BuildSnapshot returns.
type Snapshot struct {
	PropertyID  string    `json:"property_id"`
	Version     uint64    `json:"version"`
	Fingerprint string    `json:"fingerprint"`
	GeneratedAt time.Time `json:"generated_at"`
	Rules       []Rule    `json:"rules"`

	byPlate map[string][]int
}

// BuildSnapshot canonicalizes the rule order, computes the fingerprint and
// builds the plate lookup index. The input slice is copied, not retained.
func BuildSnapshot(propertyID string, version uint64, generatedAt time.Time, ruleList []Rule) *Snapshot {
	sorted := make([]Rule, len(ruleList))
	copy(sorted, ruleList)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	s := &Snapshot{
		PropertyID:  propertyID,
		Version:     version,
		Fingerprint: Fingerprint(sorted),
		GeneratedAt: generatedAt,
		Rules:       sorted,
		byPlate:     make(map[string][]int, len(sorted)),
	}
	for i := range sorted {
		plate := NormalizePlate(sorted[i].Plate)
		s.byPlate[plate] = append(s.byPlate[plate], i)
	}
	return s
}

// Lookup returns the rules whose normalized plate equals normalizedPlate, in
// canonical order. The returned slice must not be modified.
func (s *Snapshot) Lookup(normalizedPlate string) []Rule {
	if s == nil || len(s.byPlate) == 0 {
		// A snapshot decoded from the wire has no index yet; fall back to a scan.
		if s == nil {
			return nil
		}
		var out []Rule
		for i := range s.Rules {
			if NormalizePlate(s.Rules[i].Plate) == normalizedPlate {
				out = append(out, s.Rules[i])
			}
		}
		return out
	}
	idx, ok := s.byPlate[normalizedPlate]
	if !ok {
		return nil
	}
	out := make([]Rule, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.Rules[i])
	}
	return out
}

// RuleCount returns the number of rules in the snapshot, tolerating nil.
func (s *Snapshot) RuleCount() int {
	if s == nil {
		return 0
	}
	return len(s.Rules)
}

// Fingerprint computes the content hash over a rule set. The rules are
// canonicalized (sorted by id) before hashing, so storage order never
// changes the result. Returns a fixed-length lowercase hex string.
func Fingerprint(ruleList []Rule) string {
	sorted := make([]Rule, len(ruleList))
	copy(sorted, ruleList)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for i := range sorted {
		h.Write([]byte(canonicalRecord(&sorted[i])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalRecord serializes one rule into the fixed field order used for
// hashing. Optional fields serialize as empty strings so a rule gaining a
// window always changes the record.
func canonicalRecord(r *Rule) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(r.ID), 10))
	b.WriteByte('|')
	b.WriteString(NormalizePlate(r.Plate))
	b.WriteByte('|')
	b.WriteString(string(r.Category))
	b.WriteByte('|')
	b.WriteString(r.Label)
	b.WriteByte('|')
	if r.StartsAt != nil {
		b.WriteString(r.StartsAt.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	if r.ExpiresAt != nil {
		b.WriteString(r.ExpiresAt.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	if r.Schedule != nil {
		b.WriteString(strings.Join(r.Schedule.canonicalDays(), ","))
		b.WriteByte('|')
		b.WriteString(r.Schedule.Start)
		b.WriteByte('|')
		b.WriteString(r.Schedule.End)
	} else {
		b.WriteString("||")
	}
	b.WriteByte('\n')
	return b.String()
}
