package services_test

import (
	"errors"
	"strings"
	"testing"

	"conductor/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrValidation, "discovery", "validate path", "bad target", base)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected wrapped error to match marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "discovery: validate path: bad target") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Class
	}{
		{"validation is permanent", services.Wrap(services.ErrValidation, "", "", "", nil), services.ClassPermanent},
		{"disk full is permanent", services.ErrDiskFull, services.ClassPermanent},
		{"permission", services.Wrap(services.ErrPermission, "planning", "write", "", nil), services.ClassPermission},
		{"read-only", services.ErrReadOnly, services.ClassPermission},
		{"timeout is transient", services.ErrTimeout, services.ClassTransient},
		{"unmarked is transient", errors.New("mystery"), services.ClassTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseClass(t *testing.T) {
	if cls, ok := services.ParseClass(" Transient "); !ok || cls != services.ClassTransient {
		t.Fatalf("ParseClass transient = %v %v", cls, ok)
	}
	if _, ok := services.ParseClass("fatal"); ok {
		t.Fatal("expected unknown class to fail")
	}
}
