// Package decision implements the access evaluator: a pure function mapping a
// plate detection, a rule set snapshot and an evaluation instant to a
// granted/denied/unknown outcome with a human-readable reason. It runs
// identically on the cloud (API queries) and on the edge (live gate events).
package decision

import (
	"fmt"
	"time"

	"github.com/plategate/plategate/internal/rules"
)

// Outcome is the result of evaluating a detection.
type Outcome string

const (
	Granted Outcome = "granted"
	Denied  Outcome = "denied"
	Unknown Outcome = "unknown"
)

// Reason strings recorded on decision records. Auditing depends on these
// exact values; change them only together with the consumers.
const (
	ReasonNoMatchingRule    = "no matching rule"
	ReasonMatchedDenyList   = "matched deny list"
	ReasonBelowThreshold    = "confidence below threshold"
	ReasonUnreadablePlate   = "unreadable plate"
	ReasonNoRulesSynced     = "no rules synced"
	ReasonManualOpen        = "manual open"
	staleReasonSuffixFormat = "; using cached rules as of %s"
	matchedListReasonFormat = "matched %s list"
)

// MatchedListReason returns the grant reason for a category, e.g.
// "matched allow list".
func MatchedListReason(c rules.Category) string {
	return fmt.Sprintf(matchedListReasonFormat, c)
}

// StaleReasonSuffix formats the flag appended to reasons when the snapshot is
// older than the staleness ceiling.
func StaleReasonSuffix(syncedAt time.Time) string {
	return fmt.Sprintf(staleReasonSuffixFormat, syncedAt.UTC().Format(time.RFC3339))
}

// Input is one detection to evaluate. CacheSyncedAt is when the snapshot was
// last accepted from the cloud; leave it zero when evaluating against the
// canonical store, which is never stale.
type Input struct {
	Plate         string
	Confidence    float64 // 0-100
	Timestamp     time.Time
	CacheSyncedAt time.Time
}

// Config carries the evaluator knobs.
type Config struct {
	ConfidenceThreshold float64       // 0 disables the low-confidence override
	StalenessCeiling    time.Duration // 0 disables stale-cache flagging
}

// Result is the outcome of one evaluation.
type Result struct {
	Outcome         Outcome
	Reason          string
	MatchedRuleID   uint
	MatchedCategory rules.Category
	NormalizedPlate string
	SnapshotVersion uint64
	Stale           bool
}

// Evaluate resolves one detection against a snapshot. It is deterministic,
// performs no I/O and is safe to call concurrently with a shared read-only
// snapshot.
//
// Resolution order: unreadable plate, low confidence, missing snapshot, then
// rule matching with deny taking precedence over every granting category and
// allow > vendor > visitor among grants. Ties inside a category go to the
// lowest rule id. A snapshot older than the staleness ceiling still serves
// the decision but the reason is flagged with the sync timestamp.
func Evaluate(snap *rules.Snapshot, in Input, cfg Config) Result {
	res := Result{
		Outcome:         Unknown,
		NormalizedPlate: rules.NormalizePlate(in.Plate),
	}

	if res.NormalizedPlate == "" {
		res.Reason = ReasonUnreadablePlate
		return res
	}

	if cfg.ConfidenceThreshold > 0 && in.Confidence < cfg.ConfidenceThreshold {
		res.Reason = ReasonBelowThreshold
		return res
	}

	if snap == nil {
		res.Reason = ReasonNoRulesSynced
		return res
	}

	res.SnapshotVersion = snap.Version

	if cfg.StalenessCeiling > 0 && !in.CacheSyncedAt.IsZero() &&
		in.Timestamp.Sub(in.CacheSyncedAt) > cfg.StalenessCeiling {
		res.Stale = true
	}

	candidates := effectiveRules(snap, res.NormalizedPlate, in.Timestamp)
	if len(candidates) == 0 {
		res.Reason = ReasonNoMatchingRule
		return flagIfStale(res, in)
	}

	if deny := lowestID(candidates, rules.CategoryDeny); deny != nil {
		res.Outcome = Denied
		res.Reason = ReasonMatchedDenyList
		res.MatchedRuleID = deny.ID
		res.MatchedCategory = rules.CategoryDeny
		return flagIfStale(res, in)
	}

	for _, cat := range rules.GrantPrecedence {
		if match := lowestID(candidates, cat); match != nil {
			res.Outcome = Granted
			res.Reason = MatchedListReason(cat)
			res.MatchedRuleID = match.ID
			res.MatchedCategory = cat
			return flagIfStale(res, in)
		}
	}

	// Only reachable if a rule carries an unknown category; treat as no match.
	res.Reason = ReasonNoMatchingRule
	return flagIfStale(res, in)
}

// effectiveRules returns the rules matching the plate whose window and
// schedule include the instant.
func effectiveRules(snap *rules.Snapshot, normalizedPlate string, at time.Time) []rules.Rule {
	matches := snap.Lookup(normalizedPlate)
	if len(matches) == 0 {
		return nil
	}
	out := make([]rules.Rule, 0, len(matches))
	for i := range matches {
		if matches[i].MatchesInstant(at) {
			out = append(out, matches[i])
		}
	}
	return out
}

// lowestID returns the candidate with the lowest id in the category, or nil.
// Candidates arrive in canonical id order, so the first hit wins.
func lowestID(candidates []rules.Rule, cat rules.Category) *rules.Rule {
	for i := range candidates {
		if candidates[i].Category == cat {
			return &candidates[i]
		}
	}
	return nil
}

func flagIfStale(res Result, in Input) Result {
	if res.Stale {
		res.Reason += StaleReasonSuffix(in.CacheSyncedAt)
	}
	return res
}
