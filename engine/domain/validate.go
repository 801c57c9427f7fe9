package domain

import (
	"fmt"
	"strings"
)

// ValidateQuery rejects questions that contain nothing but whitespace.
func ValidateQuery(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyQuery
	}
	return nil
}

// ParseDelayed converts a source-table delayed flag into the canonical
// boolean used by every graph write path. Accepted spellings are
// yes/no, y/n, true/false and 1/0 in any case.
func ParseDelayed(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidDelayed, raw)
}

// FormatDelayed renders the delayed flag for human-readable fact text.
func FormatDelayed(delayed bool) string {
	if delayed {
		return "yes"
	}
	return "no"
}

// QueryMentions reports whether the lowercased text contains any of terms.
// Matching is by substring, so "suppliers" mentions "supplier".
func QueryMentions(text string, terms ...string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
