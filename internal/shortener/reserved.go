package shortener

import (
	"fmt"
	"strings"
)

// DefaultReservedWords are path prefixes the service routes itself.
var DefaultReservedWords = []string{
	"links", "x", "metrics", "api", "admin", "dashboard", "login", "logout", "static",
}

// ReservedWords rejects custom codes that would shadow a reserved path.
// Matching is case-insensitive. It is immutable after construction.
type ReservedWords struct {
	words []string
}

// NewReservedWords lower-cases and de-duplicates the given words.
func NewReservedWords(words []string) *ReservedWords {
	seen := make(map[string]struct{}, len(words))
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		normalized = append(normalized, w)
	}
	return &ReservedWords{words: normalized}
}

// Validate fails with ErrReservedCode when code equals a reserved word or
// starts with "<word>/". An empty code is always valid.
func (r *ReservedWords) Validate(code string) error {
	if r == nil || code == "" {
		return nil
	}

	candidate := strings.ToLower(code)
	for _, w := range r.words {
		if candidate == w || strings.HasPrefix(candidate, w+"/") {
			return fmt.Errorf("%w: %q", ErrReservedCode, code)
		}
	}
	return nil
}
