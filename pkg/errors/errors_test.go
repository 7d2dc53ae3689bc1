package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestKindCodeMapping(t *testing.T) {
	cases := []struct {
		kind   Kind
		code   string
		status int
	}{
		{KindValidation, CodeValidation, http.StatusBadRequest},
		{KindNotFound, CodeNotFound, http.StatusNotFound},
		{KindMethodNotAllowed, CodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{KindInvalidRequest, CodeValidation, http.StatusBadRequest},
		{KindUnavailable, CodeBackendUnavailable, http.StatusServiceUnavailable},
		{KindTimeout, CodeTimeout, http.StatusGatewayTimeout},
		{KindBackend, CodeBackend, http.StatusBadGateway},
		{KindDependencyFailed, CodeBackend, http.StatusBadGateway},
		{KindInternal, CodeInternal, http.StatusInternalServerError},
	}

	for _, c := range cases {
		if got := c.kind.Code(); got != c.code {
			t.Errorf("Kind %s: expected code %s, got %s", c.kind, c.code, got)
		}
		if got := c.kind.HTTPStatus(); got != c.status {
			t.Errorf("Kind %s: expected status %d, got %d", c.kind, c.status, got)
		}
	}
}

func TestUnknownKindMapsToInternal(t *testing.T) {
	k := Kind("something_else")
	if k.Code() != CodeInternal {
		t.Errorf("Expected INTERNAL_ERROR code, got %s", k.Code())
	}
	if k.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", k.HTTPStatus())
	}
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := Wrap(KindBackend, "compute failed", fmt.Errorf("boom")).
		WithRoute("quote").
		WithCall("tax")

	msg := err.Error()
	for _, want := range []string{"backend", "compute failed", "route=quote", "call=tax", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q, got %q", want, msg)
		}
	}
}

func TestKindOf(t *testing.T) {
	err := New(KindTimeout, "deadline exceeded")
	if KindOf(err) != KindTimeout {
		t.Errorf("Expected KindTimeout, got %s", KindOf(err))
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if KindOf(wrapped) != KindTimeout {
		t.Errorf("Expected KindTimeout through wrapping, got %s", KindOf(wrapped))
	}

	if KindOf(stderrors.New("plain")) != KindInternal {
		t.Error("Expected plain errors to classify as KindInternal")
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("Expected nil for nil input")
	}

	plain := stderrors.New("plain")
	e := AsError(plain)
	if e.Kind != KindInternal {
		t.Errorf("Expected KindInternal, got %s", e.Kind)
	}
	if !stderrors.Is(e, plain) && e.Err != plain {
		t.Error("Expected the cause to be preserved")
	}
}

func TestIs(t *testing.T) {
	err := New(KindUnavailable, "circuit open").WithCall("tax")
	if !stderrors.Is(err, New(KindUnavailable, "")) {
		t.Error("Expected kinds to match via errors.Is")
	}
	if stderrors.Is(err, New(KindTimeout, "")) {
		t.Error("Expected different kinds not to match")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(KindBackend, "server error")) {
		t.Error("Expected backend errors to be retryable")
	}
	for _, k := range []Kind{KindInvalidRequest, KindTimeout, KindUnavailable, KindValidation, KindInternal} {
		if IsRetryable(New(k, "x")) {
			t.Errorf("Expected kind %s not to be retryable", k)
		}
	}
}

func TestWithFields(t *testing.T) {
	fields := []FieldError{
		{Field: "id", Message: "required field is missing"},
		{Field: "amount", Message: "must be greater than 0"},
	}
	err := New(KindValidation, "request validation failed").WithFields(fields)
	if len(err.Fields) != 2 {
		t.Fatalf("Expected 2 field errors, got %d", len(err.Fields))
	}
	if err.Fields[1].Field != "amount" {
		t.Errorf("Expected field 'amount', got %s", err.Fields[1].Field)
	}
}
