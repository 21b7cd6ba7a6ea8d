// Package telemetry - the error package's reporting hook
package telemetry

import (
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/privacy"
)

// Reporter forwards enhanced errors to sentry. Installed by Init via
// errors.SetErrorReporter, so every Build() on an enhanced error reaches
// sentry exactly once without the error sites knowing telemetry exists.
type Reporter struct{}

// ReportError captures one enhanced error. Context values whose key names a
// plate are anonymized, every other string value is scrubbed for URLs.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	if !initialized.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", ee.GetCategory())
		scope.SetLevel(levelFor(ee.GetPriority()))

		for k, v := range ee.GetContext() {
			scope.SetExtra(k, scrubContextValue(k, v))
		}

		sentry.CaptureException(privacy.WrapError(ee.GetError()))
	})
}

func levelFor(priority string) sentry.Level {
	switch priority {
	case errors.PriorityCritical:
		return sentry.LevelFatal
	case errors.PriorityHigh:
		return sentry.LevelError
	case errors.PriorityMedium:
		return sentry.LevelWarning
	case errors.PriorityLow:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

func scrubContextValue(key string, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if strings.Contains(strings.ToLower(key), "plate") {
		return privacy.AnonymizePlate(s)
	}
	return privacy.ScrubMessage(s)
}
