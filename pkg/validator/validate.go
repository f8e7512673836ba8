package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const MaxRepoNameLength = 100

var reValidRepoName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

var (
	ErrInvalid         = errors.New("validation error")
	ErrRequiredValue   = fmt.Errorf("required value: %w", ErrInvalid)
	ErrInvalidRepoName = fmt.Errorf("invalid repository name: %w", ErrInvalid)
	ErrInvalidPath     = fmt.Errorf("invalid path: %w", ErrInvalid)
)

// ValidateRepoName checks a repository name: alphanumeric plus '.', '_', '-',
// no leading or trailing dot/hyphen and no consecutive dots.
func ValidateRepoName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidRepoName)
	}
	if len(name) > MaxRepoNameLength {
		return fmt.Errorf("name longer than %d characters: %w", MaxRepoNameLength, ErrInvalidRepoName)
	}
	if !reValidRepoName.MatchString(name) {
		return fmt.Errorf("name %q contains invalid characters: %w", name, ErrInvalidRepoName)
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") ||
		strings.HasSuffix(name, ".") || strings.HasSuffix(name, "-") {
		return fmt.Errorf("name %q starts or ends with dot or hyphen: %w", name, ErrInvalidRepoName)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("name %q contains consecutive dots: %w", name, ErrInvalidRepoName)
	}
	return nil
}

// NormalizePath canonicalizes an entry path: backslashes become slashes,
// leading/trailing and duplicate slashes are removed. Traversal segments and
// null bytes are rejected, as is a path that normalizes to nothing.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path: %w", ErrInvalidPath)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("path contains null byte: %w", ErrInvalidPath)
	}
	normalized := strings.ReplaceAll(p, `\`, "/")
	for strings.Contains(normalized, "//") {
		normalized = strings.ReplaceAll(normalized, "//", "/")
	}
	normalized = strings.Trim(normalized, "/")
	if normalized == "" {
		return "", fmt.Errorf("path %q is empty after normalization: %w", p, ErrInvalidPath)
	}
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return "", fmt.Errorf("path %q contains traversal: %w", p, ErrInvalidPath)
		}
	}
	return normalized, nil
}
