package transform

import (
	"strings"
	"testing"
	"time"

	"github.com/relaygate/relaygate/pkg/adapter"
	"github.com/relaygate/relaygate/pkg/config"
	"github.com/relaygate/relaygate/pkg/errors"
	"github.com/relaygate/relaygate/pkg/orchestrator"
)

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
}

func quotePlan(t *testing.T) *orchestrator.Plan {
	t.Helper()
	plan, err := orchestrator.BuildPlan("quote", []orchestrator.CallDescriptor{
		{Name: "tax", Backend: "tax", Namespace: "tax"},
		{Name: "ledger", Backend: "ledger", Namespace: "ledger"},
	})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	return plan
}

func TestRespondComplete(t *testing.T) {
	plan := quotePlan(t)
	result := &orchestrator.Result{
		Route:  "quote",
		Status: orchestrator.StatusComplete,
		Policy: config.PolicyRequireAll,
		Outcomes: []adapter.Outcome{
			adapter.Success("tax", map[string]interface{}{"rate": 0.2}),
			adapter.Success("ledger", map[string]interface{}{"balance": 50}),
		},
	}

	resp := New().Respond(plan, result, false)

	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	tax, ok := resp.Body["tax"].(map[string]interface{})
	if !ok || tax["rate"] != 0.2 {
		t.Errorf("tax payload not merged under its namespace: %v", resp.Body)
	}
	ledger, ok := resp.Body["ledger"].(map[string]interface{})
	if !ok || ledger["balance"] != 50 {
		t.Errorf("ledger payload not merged under its namespace: %v", resp.Body)
	}
	if _, present := resp.Body["partial"]; present {
		t.Error("complete responses must not carry a partial marker")
	}
}

func TestRespondDegradedPartialAllowed(t *testing.T) {
	plan := quotePlan(t)
	result := &orchestrator.Result{
		Route:  "quote",
		Status: orchestrator.StatusDegraded,
		Policy: config.PolicyBestEffort,
		Outcomes: []adapter.Outcome{
			adapter.Success("tax", map[string]interface{}{"rate": 0.2}),
			adapter.Failure("ledger", errors.New(errors.KindUnavailable, "down")),
		},
	}

	resp := New().Respond(plan, result, true)

	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if resp.Body["partial"] != true {
		t.Error("degraded partial response must carry partial: true")
	}
	if _, present := resp.Body["tax"]; !present {
		t.Error("successful payload missing from partial response")
	}
	if _, present := resp.Body["ledger"]; present {
		t.Error("failed call must not contribute a payload")
	}
}

func TestRespondDegradedPartialDisallowed(t *testing.T) {
	plan := quotePlan(t)
	result := &orchestrator.Result{
		Route:  "quote",
		Status: orchestrator.StatusDegraded,
		Policy: config.PolicyBestEffort,
		Outcomes: []adapter.Outcome{
			adapter.Success("tax", map[string]interface{}{"rate": 0.2}),
			adapter.Failure("ledger", errors.New(errors.KindUnavailable, "down")),
		},
	}

	resp := New().Respond(plan, result, false)

	if resp.Status != 503 {
		t.Fatalf("expected 503, got %d", resp.Status)
	}
	if resp.Body["error"] != errors.CodeBackendUnavailable {
		t.Errorf("expected %s, got %v", errors.CodeBackendUnavailable, resp.Body["error"])
	}
}

func TestRespondFailedUsesFirstDeclaredFailure(t *testing.T) {
	plan := quotePlan(t)
	// The first declared call fails with a timeout, the second with a
	// backend error. The envelope must reflect the first.
	result := &orchestrator.Result{
		Route:  "quote",
		Status: orchestrator.StatusFailed,
		Policy: config.PolicyRequireAll,
		Outcomes: []adapter.Outcome{
			adapter.Failure("tax", errors.New(errors.KindTimeout, "deadline exceeded")),
			adapter.Failure("ledger", errors.New(errors.KindBackend, "boom")),
		},
	}

	resp := New().Respond(plan, result, false)

	if resp.Status != 504 {
		t.Fatalf("expected 504, got %d", resp.Status)
	}
	if resp.Body["error"] != errors.CodeTimeout {
		t.Errorf("expected %s, got %v", errors.CodeTimeout, resp.Body["error"])
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	tr := New()
	tr.now = fixedClock()

	resp := tr.Error(errors.New(errors.KindValidation, "request validation failed").
		WithFields([]errors.FieldError{
			{Field: "amount", Message: "must be greater than 0"},
			{Field: "id", Message: "missing required field"},
		}))

	if resp.Status != 400 {
		t.Fatalf("expected 400, got %d", resp.Status)
	}
	if len(resp.Body) != 3 {
		t.Fatalf("envelope must have exactly error, message, timestamp: %v", resp.Body)
	}
	if resp.Body["error"] != errors.CodeValidation {
		t.Errorf("expected %s, got %v", errors.CodeValidation, resp.Body["error"])
	}
	if resp.Body["timestamp"] != "2025-06-01T12:00:00Z" {
		t.Errorf("unexpected timestamp: %v", resp.Body["timestamp"])
	}
	msg, _ := resp.Body["message"].(string)
	if msg == "" {
		t.Fatal("missing message")
	}
	for _, want := range []string{"amount", "id"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message should name field %q: %s", want, msg)
		}
	}
}

func TestErrorMapsUnknownToInternal(t *testing.T) {
	resp := New().Error(errIota("plain"))

	if resp.Status != 500 {
		t.Fatalf("expected 500, got %d", resp.Status)
	}
	if resp.Body["error"] != errors.CodeInternal {
		t.Errorf("expected %s, got %v", errors.CodeInternal, resp.Body["error"])
	}
}

type errIota string

func (e errIota) Error() string { return string(e) }
