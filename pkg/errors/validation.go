package errors

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Limits applied by the validators.
const (
	MinSearchLength = 3
	MaxSearchLength = 128
	MaxRegimeLength = 256
	MaxPathLength   = 4096
)

// ValidateSearchQuery validates a search term for [hierarchy.Tree.Find].
// Terms are trimmed first; what remains must be at least MinSearchLength
// characters and free of control characters.
func ValidateSearchQuery(term string) error {
	term = strings.TrimSpace(term)
	n := utf8.RuneCountInString(term)
	if n < MinSearchLength {
		return New(ErrCodeInvalidQuery, "search term must be at least %d characters", MinSearchLength)
	}
	if n > MaxSearchLength {
		return New(ErrCodeInvalidQuery, "search term too long (max %d characters)", MaxSearchLength)
	}
	if strings.IndexFunc(term, unicode.IsControl) >= 0 {
		return New(ErrCodeInvalidQuery, "search term contains control characters")
	}
	return nil
}

// ValidateRegimeName validates a regime name from a request or config file.
// Line breaks are allowed because spreadsheet headers carry them; they are
// collapsed by [hierarchy.NormalizeRegime]. Other control characters are not.
func ValidateRegimeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return New(ErrCodeInvalidRegime, "regime name cannot be empty")
	}
	if len(name) > MaxRegimeLength {
		return New(ErrCodeInvalidRegime, "regime name too long (max %d characters)", MaxRegimeLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return New(ErrCodeInvalidRegime, "regime name contains invalid control characters")
		}
	}
	return nil
}

// ValidateKnownRegime checks name against the regimes present in a dataset.
func ValidateKnownRegime(name string, known []string) error {
	if err := ValidateRegimeName(name); err != nil {
		return err
	}
	if !slices.Contains(known, name) {
		return New(ErrCodeInvalidRegime, "unknown regime %q", name)
	}
	return nil
}

// ValidateFilePath validates a local file path given on the command line or
// in the config file. Absolute paths are fine; null bytes and control
// characters are not.
func ValidateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}
	if len(path) > MaxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", MaxPathLength)
	}
	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}
	return nil
}

// ValidateURI validates a connection URI. The scheme must be one of schemes.
func ValidateURI(uri string, schemes ...string) error {
	if uri == "" {
		return New(ErrCodeInvalidConfig, "URI cannot be empty")
	}
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok || !slices.Contains(schemes, scheme) {
		return New(ErrCodeInvalidConfig, "URI must use one of the schemes %v", schemes)
	}
	return nil
}

// ValidateFormat checks an output format against the supported set.
func ValidateFormat(format string, valid []string) error {
	if !slices.Contains(valid, format) {
		return New(ErrCodeInvalidFormat, "unsupported format %q (valid: %s)", format, strings.Join(valid, ", "))
	}
	return nil
}
