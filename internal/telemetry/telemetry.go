// Package telemetry provides opt-in, privacy-scrubbed error reporting.
// Nothing is sent unless sentry is explicitly enabled in the settings, and
// every outgoing event passes the privacy filters first: no plates, no
// hostnames, no credentials.
package telemetry

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/privacy"
)

var (
	initialized   atomic.Bool
	serviceLogger *slog.Logger
)

func logger() *slog.Logger {
	if serviceLogger == nil {
		serviceLogger = logging.ForService("telemetry")
	}
	return serviceLogger
}

// Init initializes the sentry SDK when telemetry is enabled. Disabled
// telemetry is not an error: the reporter simply never attaches and every
// capture becomes a no-op.
func Init(settings *conf.Settings) error {
	if !settings.Sentry.Enabled {
		logger().Info("telemetry disabled (opt-in)")
		return nil
	}
	if settings.Sentry.DSN == "" {
		return errors.Newf("telemetry enabled but no DSN configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,
		Debug:      false,

		// Stack traces routinely embed file paths; leave them off.
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",

		Release:    fmt.Sprintf("plategate@%s", settings.Version),
		BeforeSend: beforeSend(settings),
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry-init").
			Build()
	}

	configureScope(settings)
	initialized.Store(true)
	errors.SetErrorReporter(&Reporter{})

	logger().Info("telemetry initialized", "release", settings.Version)
	return nil
}

// Enabled reports whether events are actually being captured.
func Enabled() bool {
	return initialized.Load()
}

// Flush drains pending events, returning false when the timeout expired
// first. Called on shutdown.
func Flush(timeout time.Duration) bool {
	if !initialized.Load() {
		return true
	}
	return sentry.Flush(timeout)
}

// configureScope attaches the anonymous install identity to every event.
func configureScope(settings *conf.Settings) {
	systemID := settings.SystemID
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		if systemID != "" {
			scope.SetTag("system_id", systemID)
		}
		scope.SetContext("application", map[string]any{
			"name":    "plategate",
			"version": settings.Version,
		})
	})
}

// beforeSend is the last gate before an event leaves the process.
func beforeSend(settings *conf.Settings) func(*sentry.Event, *sentry.EventHint) *sentry.Event {
	debug := settings.Sentry.Debug
	return func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		scrubbed := scrubEvent(event)
		if debug {
			logger().Debug("telemetry event scrubbed",
				"message", scrubbed.Message,
				"tags", len(scrubbed.Tags),
				"extra", len(scrubbed.Extra))
		}
		return scrubbed
	}
}

// scrubEvent is the backstop: extras set through the error reporter arrive
// scrubbed already, but events captured any other way pass through here too.
func scrubEvent(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = privacy.ScrubMessage(event.Message)

	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k, v := range event.Extra {
		event.Extra[k] = scrubContextValue(k, v)
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
