package errors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"machine not found", NewMachineNotFound("rig-01"), http.StatusNotFound},
		{"wrapped not found", Wrap(NewNotFound("setting", "retention"), "load"), http.StatusNotFound},
		{"missing field", NewMissingField("machine_id"), http.StatusBadRequest},
		{"invalid value", NewInvalidValue("cpu_load", 250, "must be 0..100"), http.StatusBadRequest},
		{"invalid range", NewInvalidRange("end before start"), http.StatusBadRequest},
		{"already running", ErrAlreadyRunning, http.StatusConflict},
		{"flush in progress", ErrFlushInProgress, http.StatusConflict},
		{"stopped", ErrServiceStopped, http.StatusServiceUnavailable},
		{"database", Database("insert samples", fmt.Errorf("disk full")), http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDatabaseKeepsChain(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Database("upsert summaries", cause)

	if !Is(err, ErrDatabase) || !Is(err, cause) {
		t.Errorf("chain lost: %v", err)
	}
	if !IsRetriable(err) {
		t.Error("database errors should be retriable")
	}
	if Database("noop", nil) != nil {
		t.Error("Database(nil) should be nil")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Fatal("empty collection should yield nil")
	}

	v.AddMissing("machine_id")
	v.Add(nil)
	v.Add(NewInvalidValue("samples[0].gpu_temp", -300, "below absolute zero"))

	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !Is(err, ErrMissingField) || !Is(err, ErrInvalidValue) {
		t.Errorf("collected errors not reachable: %v", err)
	}
	if !IsValidation(err) {
		t.Error("expected validation class")
	}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Error("wrapping nil should stay nil")
	}
	err := Wrapf(ErrStoreClosed, "flush %d", 3)
	if !IsStateError(err) || !strings.HasPrefix(err.Error(), "flush 3: ") {
		t.Errorf("unexpected %v", err)
	}
}
