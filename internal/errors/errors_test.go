package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestErrorBuilderDefaults(t *testing.T) {
	t.Parallel()

	base := fmt.Errorf("probe failed")
	ee := New(base).Build()

	if ee.GetComponent() != ComponentUnknown {
		t.Errorf("expected component %q, got %q", ComponentUnknown, ee.GetComponent())
	}
	if ee.Category != CategoryGeneric {
		t.Errorf("expected category %q, got %q", CategoryGeneric, ee.Category)
	}
	if ee.Error() != "probe failed" {
		t.Errorf("unexpected message: %q", ee.Error())
	}
	if !Is(ee, base) {
		t.Error("enhanced error should match wrapped error with Is")
	}
}

func TestErrorBuilderFullChain(t *testing.T) {
	t.Parallel()

	ee := Newf("fingerprint mismatch for property %s", "prop-1").
		Component("edgesync").
		Category(CategorySyncIntegrity).
		Priority(PriorityHigh).
		Context("property_id", "prop-1").
		Timing("snapshot-fetch", 120*time.Millisecond).
		Build()

	if ee.GetComponent() != "edgesync" {
		t.Errorf("component = %q", ee.GetComponent())
	}
	if !IsCategory(ee, CategorySyncIntegrity) {
		t.Error("IsCategory should match sync-integrity")
	}
	if IsCategory(ee, CategoryDatabase) {
		t.Error("IsCategory must not match an unrelated category")
	}

	ctx := ee.GetContext()
	if ctx["property_id"] != "prop-1" {
		t.Errorf("context property_id = %v", ctx["property_id"])
	}
	if ctx["duration_ms"] != int64(120) {
		t.Errorf("context duration_ms = %v", ctx["duration_ms"])
	}
}

func TestPriorityValidation(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("x")).Priority("bogus").Build()
	if ee.GetPriority() != PriorityMedium {
		t.Errorf("invalid priority should fall back to medium, got %q", ee.GetPriority())
	}

	ee = New(fmt.Errorf("x")).Build()
	if ee.GetPriority() != "" {
		t.Errorf("unset priority should stay empty, got %q", ee.GetPriority())
	}
}

func TestCategoryMatchingViaIs(t *testing.T) {
	t.Parallel()

	a := New(fmt.Errorf("a")).Category(CategoryTimeout).Build()
	b := New(fmt.Errorf("b")).Category(CategoryTimeout).Build()

	if !Is(a, b) {
		t.Error("two enhanced errors with the same category should match")
	}
}
