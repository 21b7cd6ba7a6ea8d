// internal/api/v1/api.go
package api

import (
	"crypto/rand"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/logging"
)

// ErrorResponse is the JSON body returned for every handler error.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a unique identifier for error tracking using
// cryptographic randomness. 8 characters is plenty for correlating one log
// line with one response.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// newRequestLogger opens the structured request log. Initialization
// failures fall back to a disabled logger so the API never refuses to start
// over logging.
func newRequestLogger() (*slog.Logger, func() error) {
	logger, closer, err := logging.NewFileLogger("logs/api.log", "api", slog.LevelInfo)
	if err != nil {
		handler := slog.NewJSONHandler(io.Discard, nil)
		return slog.New(handler).With("service", "api"), func() error { return nil }
	}
	return logger, closer
}

// requestLoggingMiddleware logs one structured line per request.
func requestLoggingMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			if logger == nil {
				return err
			}

			req := ctx.Request()
			res := ctx.Response()
			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("query", req.URL.RawQuery),
				slog.Int("status", res.Status),
				slog.String("ip", ctx.RealIP()),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			logger.LogAttrs(req.Context(), slog.LevelInfo, "API Request", attrs...)
			return err
		}
	}
}

// handleError logs the failure with a correlation identifier and writes the
// matching JSON response.
func handleError(ctx echo.Context, logger *slog.Logger, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	if logger != nil {
		errorStr := message
		if err != nil {
			errorStr = err.Error()
		}
		logger.Error("API Error",
			"correlation_id", resp.CorrelationID,
			"message", message,
			"error", errorStr,
			"code", code,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"ip", ctx.RealIP(),
		)
	}
	return ctx.JSON(code, resp)
}

// CheckResponse is the dry-run evaluation result returned by the rule check
// endpoints. No record is written and nothing is actuated.
type CheckResponse struct {
	Plate           string `json:"plate"`
	NormalizedPlate string `json:"normalized_plate"`
	Outcome         string `json:"outcome"`
	Reason          string `json:"reason"`
	MatchedRuleID   uint   `json:"matched_rule_id,omitempty"`
	MatchedCategory string `json:"matched_category,omitempty"`
	SnapshotVersion uint64 `json:"snapshot_version,omitempty"`
	Stale           bool   `json:"stale,omitempty"`
}

func newCheckResponse(plate string, res decision.Result) CheckResponse {
	return CheckResponse{
		Plate:           plate,
		NormalizedPlate: res.NormalizedPlate,
		Outcome:         string(res.Outcome),
		Reason:          res.Reason,
		MatchedRuleID:   res.MatchedRuleID,
		MatchedCategory: string(res.MatchedCategory),
		SnapshotVersion: res.SnapshotVersion,
		Stale:           res.Stale,
	}
}

// parseConfidence reads a confidence query parameter, defaulting to 100 so a
// plain check exercises rule matching rather than the threshold.
func parseConfidence(raw string) (float64, bool) {
	if raw == "" {
		return 100, true
	}
	confidence, err := strconv.ParseFloat(raw, 64)
	if err != nil || confidence < 0 || confidence > 100 {
		return 0, false
	}
	return confidence, true
}
