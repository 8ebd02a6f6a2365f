package taskforge

import (
	"errors"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("dial tcp: refused")

	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"validation", NewValidationError("bad input", nil), KindValidation},
		{"not_found", NewNotFoundError("config 42 not found"), KindNotFound},
		{"conflict", NewConflictError("already active"), KindConflict},
		{"permission", NewPermissionError("requires superuser"), KindPermission},
		{"transient", NewTransientError("redis unavailable", cause), KindTransient},
		{"integrity", NewIntegrityError("duplicate key", cause), KindIntegrity},
		{"internal", NewInternalError("panic recovered", cause), KindInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.kind {
				t.Errorf("expected kind %s, got %s", tc.kind, tc.err.Kind)
			}
			if tc.err.Code() != string(tc.kind) {
				t.Errorf("expected code %s, got %s", tc.kind, tc.err.Code())
			}
			if !IsKind(tc.err, tc.kind) {
				t.Errorf("IsKind should report true for %s", tc.kind)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransientError("redis op failed", cause)

	if err.Unwrap() != cause {
		t.Error("unwrap should return the original cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through the wrapper")
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := NewNotFoundError("schedule not found")
	if err.Error() != "schedule not found" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestParameterValidationError(t *testing.T) {
	err := &ParameterValidationError{
		TaskType: "reddit_scraper",
		Missing:  []string{"subreddit"},
	}

	if err.Error() == "" {
		t.Error("expected non-empty message")
	}

	asValidation := err.AsValidation()
	if asValidation.Kind != KindValidation {
		t.Errorf("expected KindValidation, got %s", asValidation.Kind)
	}
	if asValidation.Details["task_type"] != "reddit_scraper" {
		t.Errorf("expected task_type detail, got %v", asValidation.Details["task_type"])
	}
}

func TestCompensationError(t *testing.T) {
	primary := NewTransientError("redis write failed", nil)
	compensation := errors.New("engine unregister also failed")

	err := &CompensationError{Primary: primary, Compensation: compensation}

	if !errors.Is(err, primary) {
		t.Error("should unwrap to primary")
	}
	msg := err.Error()
	if msg == "" {
		t.Error("expected non-empty message")
	}
}
