package queue

import (
	"path"
	"strings"

	"conductor/internal/services"
)

// ValidatePath checks a work item target path against the configured
// allow-list. Paths must be relative, free of traversal segments, and fall
// under one of the allowed destination prefixes. Violations are permanent
// validation failures: they are never retried.
func ValidatePath(target string, allowed []string) error {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return services.Wrap(services.ErrValidation, "", "validate path", "empty target path", nil)
	}
	if strings.ContainsRune(trimmed, '\x00') {
		return services.Wrap(services.ErrValidation, "", "validate path", "target contains NUL byte", nil)
	}
	normalized := strings.ReplaceAll(trimmed, "\\", "/")
	if path.IsAbs(normalized) || strings.Contains(normalized, "://") || hasDrivePrefix(normalized) {
		return services.Wrap(services.ErrValidation, "", "validate path", "target must be relative: "+trimmed, nil)
	}
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return services.Wrap(services.ErrValidation, "", "validate path", "traversal segment in target: "+trimmed, nil)
		}
	}
	cleaned := path.Clean(normalized)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return services.Wrap(services.ErrValidation, "", "validate path", "target escapes workspace: "+trimmed, nil)
	}
	for _, prefix := range allowed {
		if cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return nil
		}
	}
	return services.Wrap(services.ErrValidation, "", "validate path", "target outside allowed destinations: "+trimmed, nil)
}

// CleanPath normalizes a validated target path for storage and comparison.
func CleanPath(target string) string {
	return path.Clean(strings.ReplaceAll(strings.TrimSpace(target), "\\", "/"))
}

func hasDrivePrefix(value string) bool {
	if len(value) < 2 || value[1] != ':' {
		return false
	}
	c := value[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
