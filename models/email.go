// ABOUTME: Email normalisation, validation and string-set helpers
// ABOUTME: Shared by the classifier, merge engine and directory sync
package models

import (
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/harperreed/rolodex/apperr"
)

var validate = validator.New()

// NormalizeEmail converts email to lowercase for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DomainOf extracts the domain part of an email address.
func DomainOf(email string) string {
	parts := strings.Split(NormalizeEmail(email), "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// ValidateEmail normalises email and checks its syntax.
func ValidateEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if err := validate.Var(normalized, "required,email"); err != nil {
		return "", apperr.Validation("email", "not a valid address: "+email)
	}
	return normalized, nil
}

// MergeSet returns the sorted union of a and b, trimmed and without empties.
func MergeSet(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeTags lowercases tags and returns them as a sorted set.
func NormalizeTags(tags []string) []string {
	lowered := make([]string, 0, len(tags))
	for _, t := range tags {
		lowered = append(lowered, strings.ToLower(t))
	}
	return MergeSet(lowered, nil)
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
