// Package rules defines the access rule model shared by the cloud store and
// the edge cache: plate normalization, list categories, validity windows,
// recurring schedules, and the canonical fingerprint over a rule set.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Category identifies which list a rule belongs to.
type Category string

const (
	CategoryAllow   Category = "allow"
	CategoryDeny    Category = "deny"
	CategoryVisitor Category = "visitor"
	CategoryVendor  Category = "vendor"
)

// Valid reports whether c is one of the known list categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAllow, CategoryDeny, CategoryVisitor, CategoryVendor:
		return true
	}
	return false
}

// GrantPrecedence orders the granting categories, highest first. Deny is not
// listed because it always wins outright.
var GrantPrecedence = []Category{CategoryAllow, CategoryVendor, CategoryVisitor}

// weekday codes accepted in schedules, in time.Weekday order
var weekdayCodes = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Schedule restricts a rule to a recurring weekly pattern. Start and End are
// daily times in "HH:MM" form; an instant matches when its weekday is in Days
// and its time of day falls in [Start, End).
type Schedule struct {
	Days  []string `json:"days"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

// Validate checks weekday codes and the daily time window.
func (s *Schedule) Validate() error {
	if len(s.Days) == 0 {
		return fmt.Errorf("schedule needs at least one weekday")
	}
	for _, d := range s.Days {
		if _, ok := weekdayCodes[strings.ToLower(d)]; !ok {
			return fmt.Errorf("unknown weekday code: %q", d)
		}
	}
	start, err := parseDailyMinutes(s.Start)
	if err != nil {
		return fmt.Errorf("schedule start: %w", err)
	}
	end, err := parseDailyMinutes(s.End)
	if err != nil {
		return fmt.Errorf("schedule end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("schedule end %q must be after start %q", s.End, s.Start)
	}
	return nil
}

// Matches reports whether the instant falls inside the schedule. A schedule
// that fails to parse matches nothing.
func (s *Schedule) Matches(t time.Time) bool {
	dayOK := false
	for _, d := range s.Days {
		if wd, ok := weekdayCodes[strings.ToLower(d)]; ok && wd == t.Weekday() {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}

	start, err := parseDailyMinutes(s.Start)
	if err != nil {
		return false
	}
	end, err := parseDailyMinutes(s.End)
	if err != nil {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	return minute >= start && minute < end
}

// canonicalDays returns the weekday codes lowercased and sorted in weekday
// order, for hashing and comparison.
func (s *Schedule) canonicalDays() []string {
	days := make([]string, 0, len(s.Days))
	for _, d := range s.Days {
		days = append(days, strings.ToLower(d))
	}
	sort.Slice(days, func(i, j int) bool {
		return weekdayCodes[days[i]] < weekdayCodes[days[j]]
	})
	return days
}

// parseDailyMinutes converts "HH:MM" to minutes since midnight.
func parseDailyMinutes(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Rule is one plate entry on a property's list. StartsAt and ExpiresAt are
// inclusive bounds; nil means unbounded on that side. A nil Schedule means
// every day, all day.
type Rule struct {
	ID         uint       `json:"id"`
	PropertyID string     `json:"property_id"`
	Plate      string     `json:"plate"`
	Category   Category   `json:"category"`
	Label      string     `json:"label,omitempty"`
	StartsAt   *time.Time `json:"starts_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Schedule   *Schedule  `json:"schedule,omitempty"`
}

// NormalizePlate uppercases the plate and strips everything that is not a
// letter or digit. Rules store plates in this form, so lookups must use it
// too; a mismatch here makes matching silently fail.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range plate {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Validate checks a rule at the administration boundary.
func (r *Rule) Validate() error {
	if r.PropertyID == "" {
		return fmt.Errorf("property id must not be empty")
	}
	if NormalizePlate(r.Plate) == "" {
		return fmt.Errorf("plate must contain at least one alphanumeric character")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("unknown category: %q", r.Category)
	}
	if r.StartsAt != nil && r.ExpiresAt != nil && r.ExpiresAt.Before(*r.StartsAt) {
		return fmt.Errorf("expires_at must not be before starts_at")
	}
	if r.Schedule != nil {
		if err := r.Schedule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MatchesInstant reports whether the rule is in effect at t: inside the
// validity window (inclusive bounds) and inside the recurring schedule.
func (r *Rule) MatchesInstant(t time.Time) bool {
	if r.StartsAt != nil && t.Before(*r.StartsAt) {
		return false
	}
	if r.ExpiresAt != nil && t.After(*r.ExpiresAt) {
		return false
	}
	if r.Schedule != nil {
		return r.Schedule.Matches(t)
	}
	return true
}
