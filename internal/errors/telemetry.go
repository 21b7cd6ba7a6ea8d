// Package errors - telemetry reporting hook
package errors

import "sync/atomic"

// ErrorReporter receives enhanced errors for out-of-band reporting. Implemented
// by the telemetry package; defined here so this package stays dependency-free.
type ErrorReporter interface {
	ReportError(ee *EnhancedError)
}

var (
	hasActiveReporting atomic.Bool
	globalReporter     atomic.Pointer[ErrorReporter]
)

// SetErrorReporter installs the reporter invoked on every Build. Passing nil
// disables reporting.
func SetErrorReporter(reporter ErrorReporter) {
	if reporter == nil {
		hasActiveReporting.Store(false)
		globalReporter.Store(nil)
		return
	}
	globalReporter.Store(&reporter)
	hasActiveReporting.Store(true)
}

func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}
	reporterPtr := globalReporter.Load()
	if reporterPtr == nil || *reporterPtr == nil {
		return
	}
	if ee.IsReported() {
		return
	}
	(*reporterPtr).ReportError(ee)
	ee.MarkReported()
}
