package queue_test

import (
	"errors"
	"testing"

	"conductor/internal/queue"
	"conductor/internal/services"
)

func TestValidatePathAcceptsAllowedTargets(t *testing.T) {
	allowed := []string{"docs", "reports"}
	for _, target := range []string{"docs/overview.md", "reports/q3/summary.md", "docs"} {
		if err := queue.ValidatePath(target, allowed); err != nil {
			t.Fatalf("expected %q to validate, got %v", target, err)
		}
	}
}

func TestValidatePathRejectsBadTargets(t *testing.T) {
	allowed := []string{"docs"}
	tests := []struct {
		name   string
		target string
	}{
		{"empty", ""},
		{"absolute", "/etc/passwd"},
		{"traversal", "docs/../../secrets.md"},
		{"hidden traversal", "../docs/file.md"},
		{"outside allow-list", "scratch/file.md"},
		{"windows drive", `C:\docs\file.md`},
		{"prefix lookalike", "docsx/file.md"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := queue.ValidatePath(tc.target, allowed)
			if err == nil {
				t.Fatalf("expected %q to be rejected", tc.target)
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation marker, got %v", err)
			}
		})
	}
}
