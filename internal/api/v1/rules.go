// internal/api/v1/rules.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/rules"
)

// initRuleRoutes registers the rule administration boundary. Every mutation
// republishes the property snapshot, which is what edges poll against.
func (c *CloudController) initRuleRoutes() {
	auth := c.APIKeyMiddleware()
	c.Group.POST("/rules", c.CreateRule, auth)
	c.Group.POST("/rules/bulk", c.CreateRulesBulk, auth)
	c.Group.PUT("/rules/:id", c.UpdateRule, auth)
	c.Group.DELETE("/rules/:id", c.DeleteRule, auth)
	c.Group.GET("/rules", c.ListRules)
	c.Group.GET("/rules/:id", c.GetRule)
	c.Group.GET("/rules/check", c.CheckRules)
}

// BulkRulesRequest is the payload for creating several rules of one
// property in a single republish.
type BulkRulesRequest struct {
	PropertyID string       `json:"property_id"`
	Rules      []rules.Rule `json:"rules"`
}

// ruleErrorCode maps rule store failures onto HTTP statuses. Validation
// failures surface as plain errors, everything else carries a category.
func ruleErrorCode(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryRuleStore):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// CreateRule persists a new rule and republishes the property snapshot.
func (c *CloudController) CreateRule(ctx echo.Context) error {
	var rule rules.Rule
	if err := ctx.Bind(&rule); err != nil {
		return c.HandleError(ctx, err, "invalid rule payload", http.StatusBadRequest)
	}

	created, err := c.Rules.CreateRule(&rule)
	if err != nil {
		return c.HandleError(ctx, err, "failed to create rule", ruleErrorCode(err))
	}
	return ctx.JSON(http.StatusCreated, created)
}

// CreateRulesBulk persists a batch of rules for one property with a single
// snapshot republish at the end.
func (c *CloudController) CreateRulesBulk(ctx echo.Context) error {
	var req BulkRulesRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid bulk rules payload", http.StatusBadRequest)
	}
	if req.PropertyID == "" {
		return c.HandleError(ctx, nil, "property_id is required", http.StatusBadRequest)
	}
	if len(req.Rules) == 0 {
		return c.HandleError(ctx, nil, "rules must not be empty", http.StatusBadRequest)
	}

	created, err := c.Rules.CreateRules(req.PropertyID, req.Rules)
	if err != nil {
		return c.HandleError(ctx, err, "failed to create rules", ruleErrorCode(err))
	}
	return ctx.JSON(http.StatusCreated, map[string]any{
		"created": len(created),
		"rules":   created,
	})
}

// UpdateRule replaces an existing rule. The rule identifier comes from the
// path.
func (c *CloudController) UpdateRule(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid rule id", http.StatusBadRequest)
	}

	var rule rules.Rule
	if err := ctx.Bind(&rule); err != nil {
		return c.HandleError(ctx, err, "invalid rule payload", http.StatusBadRequest)
	}
	rule.ID = uint(id)

	updated, err := c.Rules.UpdateRule(&rule)
	if err != nil {
		return c.HandleError(ctx, err, "failed to update rule", ruleErrorCode(err))
	}
	return ctx.JSON(http.StatusOK, updated)
}

// DeleteRule removes a rule and republishes its property.
func (c *CloudController) DeleteRule(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid rule id", http.StatusBadRequest)
	}

	if err := c.Rules.DeleteRule(uint(id)); err != nil {
		return c.HandleError(ctx, err, "failed to delete rule", ruleErrorCode(err))
	}
	return ctx.NoContent(http.StatusNoContent)
}

// GetRule returns a single rule by identifier.
func (c *CloudController) GetRule(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid rule id", http.StatusBadRequest)
	}

	rule, err := c.Rules.GetRule(uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "rule not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, rule)
}

// ListRules returns a property's rules, optionally narrowed by category or
// plate.
func (c *CloudController) ListRules(ctx echo.Context) error {
	propertyID := ctx.QueryParam("property_id")
	if propertyID == "" {
		return c.HandleError(ctx, nil, "property_id is required", http.StatusBadRequest)
	}

	category := ctx.QueryParam("category")
	if category != "" && !rules.Category(category).Valid() {
		return c.HandleError(ctx, nil, "unknown category", http.StatusBadRequest)
	}
	plate := rules.NormalizePlate(ctx.QueryParam("plate"))

	listed, err := c.Rules.ListRules(propertyID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to list rules", http.StatusInternalServerError)
	}

	filtered := make([]rules.Rule, 0, len(listed))
	for i := range listed {
		if category != "" && string(listed[i].Category) != category {
			continue
		}
		if plate != "" && rules.NormalizePlate(listed[i].Plate) != plate {
			continue
		}
		filtered = append(filtered, listed[i])
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": filtered,
		"count": len(filtered),
	})
}

// CheckRules runs a dry-run evaluation against the canonical store, the
// same resolution the edge applies against its cached snapshot. Nothing is
// recorded or actuated.
func (c *CloudController) CheckRules(ctx echo.Context) error {
	propertyID := ctx.QueryParam("property_id")
	if propertyID == "" {
		return c.HandleError(ctx, nil, "property_id is required", http.StatusBadRequest)
	}
	plate := ctx.QueryParam("plate")
	if plate == "" {
		return c.HandleError(ctx, nil, "plate is required", http.StatusBadRequest)
	}
	confidence, ok := parseConfidence(ctx.QueryParam("confidence"))
	if !ok {
		return c.HandleError(ctx, nil, "confidence must be between 0 and 100", http.StatusBadRequest)
	}

	snapshot, err := c.Rules.Snapshot(propertyID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to build snapshot", http.StatusInternalServerError)
	}

	result := decision.Evaluate(snapshot, decision.Input{
		Plate:      plate,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}, decision.Config{
		ConfidenceThreshold: c.Settings.Decision.ConfidenceThreshold,
	})
	return ctx.JSON(http.StatusOK, newCheckResponse(plate, result))
}
