// internal/api/v1/events.go
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/rules"
)

// initEventRoutes registers decision event ingestion and the audit queries.
func (c *CloudController) initEventRoutes() {
	c.Group.POST("/events", c.IngestEvents, c.APIKeyMiddleware())
	c.Group.GET("/events", c.SearchEvents)
	c.Group.GET("/events/stats", c.EventStats)
	c.Group.GET("/events/recent", c.RecentEvents)
}

// IngestResponse reports how an event batch landed. Re-sent records count
// as duplicates, so edges can re-deliver after an ambiguous failure without
// double-counting.
type IngestResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// EventResponse is one stored decision event on the wire.
type EventResponse struct {
	decision.Record
	ReportedAt time.Time `json:"reported_at"`
}

func newEventResponse(event *datastore.DecisionEvent) EventResponse {
	return EventResponse{
		Record:     event.ToRecord(),
		ReportedAt: event.ReportedAt,
	}
}

// IngestEvents stores decision records reported by edges. The body is
// either a single record or an array of records; insertion is idempotent
// per device and delivery identifier pair.
func (c *CloudController) IngestEvents(ctx echo.Context) error {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return c.HandleError(ctx, err, "failed to read request body", http.StatusBadRequest)
	}

	var records []decision.Record
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return c.HandleError(ctx, nil, "request body is empty", http.StatusBadRequest)
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return c.HandleError(ctx, err, "invalid event batch payload", http.StatusBadRequest)
		}
	default:
		var record decision.Record
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return c.HandleError(ctx, err, "invalid event payload", http.StatusBadRequest)
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return ctx.JSON(http.StatusOK, IngestResponse{})
	}

	events := make([]datastore.DecisionEvent, 0, len(records))
	for i := range records {
		if records[i].DeviceID == "" || records[i].DeliveryID == "" {
			return c.HandleError(ctx, nil, "device_id and delivery_id are required on every record", http.StatusBadRequest)
		}
		key := records[i].DeviceID + ":" + records[i].DeliveryID
		if _, seen := c.ingestSeen.Get(key); seen {
			continue
		}
		events = append(events, datastore.EventFromRecord(&records[i]))
	}

	accepted := 0
	if len(events) > 0 {
		var err error
		accepted, err = c.DS.SaveDecisionEvents(events)
		if err != nil {
			return c.HandleError(ctx, err, "failed to store events", http.StatusInternalServerError)
		}
		for i := range events {
			c.ingestSeen.SetDefault(events[i].DeviceID+":"+events[i].DeliveryID, struct{}{})
		}
	}

	return ctx.JSON(http.StatusOK, IngestResponse{
		Accepted:   accepted,
		Duplicates: len(records) - accepted,
	})
}

// SearchEvents returns stored decision events, newest first.
func (c *CloudController) SearchEvents(ctx echo.Context) error {
	filter := datastore.EventFilter{
		PropertyID: ctx.QueryParam("property_id"),
		DeviceID:   ctx.QueryParam("device_id"),
		Plate:      rules.NormalizePlate(ctx.QueryParam("plate")),
		Outcome:    ctx.QueryParam("decision"),
	}

	if raw := ctx.QueryParam("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.HandleError(ctx, err, "since must be RFC3339", http.StatusBadRequest)
		}
		filter.Since = since
	}
	if raw := ctx.QueryParam("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.HandleError(ctx, err, "until must be RFC3339", http.StatusBadRequest)
		}
		filter.Until = until
	}
	filter.Limit, _ = strconv.Atoi(ctx.QueryParam("limit"))
	filter.Offset, _ = strconv.Atoi(ctx.QueryParam("offset"))

	found, err := c.DS.SearchDecisionEvents(&filter)
	if err != nil {
		return c.HandleError(ctx, err, "failed to search events", http.StatusInternalServerError)
	}

	events := make([]EventResponse, 0, len(found))
	for i := range found {
		events = append(events, newEventResponse(&found[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// EventStats returns per-outcome counts, optionally scoped to a property
// and a start time.
func (c *CloudController) EventStats(ctx echo.Context) error {
	propertyID := ctx.QueryParam("property_id")

	var since time.Time
	if raw := ctx.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.HandleError(ctx, err, "since must be RFC3339", http.StatusBadRequest)
		}
		since = parsed
	}

	stats, err := c.DS.GetDecisionEventStats(propertyID, since)
	if err != nil {
		return c.HandleError(ctx, err, "failed to compute event stats", http.StatusInternalServerError)
	}

	var total int64
	for i := range stats {
		total += stats[i].Count
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"property_id": propertyID,
		"outcomes":    stats,
		"total":       total,
	})
}

// RecentEvents returns the latest decision events across all properties.
func (c *CloudController) RecentEvents(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))

	found, err := c.DS.GetRecentDecisionEvents(limit)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load recent events", http.StatusInternalServerError)
	}

	events := make([]EventResponse, 0, len(found))
	for i := range found {
		events = append(events, newEventResponse(&found[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
