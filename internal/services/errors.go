package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient  = errors.New("transient failure")
	ErrTimeout    = errors.New("timeout")
	ErrPermission = errors.New("permission denied")
	ErrReadOnly   = errors.New("read-only target")
	ErrValidation = errors.New("validation error")
	ErrDiskFull   = errors.New("disk full")
)

// Class categorizes a work item failure for retry policy selection.
type Class string

const (
	// ClassTransient failures retry immediately, then with exponential backoff.
	ClassTransient Class = "transient"
	// ClassPermission failures retry after a longer fixed delay.
	ClassPermission Class = "permission"
	// ClassPermanent failures never retry; the item goes to manual review.
	ClassPermanent Class = "permanent"
)

// ParseClass converts a string into a known Class.
func ParseClass(value string) (Class, bool) {
	switch Class(strings.ToLower(strings.TrimSpace(value))) {
	case ClassTransient:
		return ClassTransient, true
	case ClassPermission:
		return ClassPermission, true
	case ClassPermanent:
		return ClassPermanent, true
	default:
		return "", false
	}
}

// Wrap builds an error message that includes phase context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a worker error to its retry class. Unmarked errors are treated
// as transient so a flaky worker gets at least one retry.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDiskFull):
		return ClassPermanent
	case errors.Is(err, ErrPermission), errors.Is(err, ErrReadOnly):
		return ClassPermission
	default:
		return ClassTransient
	}
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "worker failure"
	}
	return strings.Join(parts, ": ")
}
