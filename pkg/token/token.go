// Package token extracts identifier-shaped substrings used to associate log
// events that do not carry an explicit correlation id.
package token

import (
	"regexp"
	"strings"
)

// Shape names a recognized identifier form.
type Shape string

const (
	// ShapeCorrelationID is a 36-character hyphenated hexadecimal id (8-4-4-4-12).
	ShapeCorrelationID Shape = "correlation_id"

	// ShapeDocumentID is a 24-character contiguous hexadecimal document id.
	ShapeDocumentID Shape = "document_id"
)

var shapes = []struct {
	shape   Shape
	pattern *regexp.Regexp
}{
	{ShapeCorrelationID, regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)},
	{ShapeDocumentID, regexp.MustCompile(`\b[0-9a-fA-F]{24}\b`)},
}

// Token is one extracted identifier.
type Token struct {
	Value string
	Shape Shape
}

// Extract returns every non-overlapping identifier in text without duplicates,
// correlation ids first, each shape in order of appearance. An empty result is
// not an error.
func Extract(text string) []Token {
	if text == "" {
		return nil
	}
	var out []Token
	seen := make(map[string]bool)
	for _, s := range shapes {
		for _, m := range s.pattern.FindAllString(text, -1) {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, Token{Value: m, Shape: s.shape})
		}
	}
	return out
}

// Set is an insertion-ordered set of token values.
type Set struct {
	values []string
	index  map[string]bool
}

// NewSet creates a set seeded with the given values; empty values are ignored.
func NewSet(values ...string) *Set {
	s := &Set{index: make(map[string]bool)}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts a value and reports whether it was new.
func (s *Set) Add(value string) bool {
	if value == "" || s.index[value] {
		return false
	}
	s.index[value] = true
	s.values = append(s.values, value)
	return true
}

// AddFrom extracts tokens from text and adds them to the set.
func (s *Set) AddFrom(text string) {
	for _, t := range Extract(text) {
		s.Add(t.Value)
	}
}

// Len returns the number of values.
func (s *Set) Len() int {
	return len(s.values)
}

// Values returns the values in insertion order.
func (s *Set) Values() []string {
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}

// ContainedIn reports whether text contains at least one value of the set.
func (s *Set) ContainedIn(text string) bool {
	if text == "" {
		return false
	}
	for _, v := range s.values {
		if strings.Contains(text, v) {
			return true
		}
	}
	return false
}
