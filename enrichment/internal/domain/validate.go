package domain

import (
	"fmt"
	"strings"
)

// MaxConcurrency caps the requested wave size.
const MaxConcurrency = 50

// ValidateSubmission checks a work submission. Nothing may be persisted when
// it returns an error.
func ValidateSubmission(items []WorkItem, schema []AttributeDef) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Message: "at least one item is required"}
	}
	if len(schema) == 0 {
		return &ValidationError{Field: "attribute_schema", Message: "at least one attribute is required"}
	}
	for i, it := range items {
		if it.Identity.IsZero() {
			return &ValidationError{Field: fmt.Sprintf("items[%d].identity", i), Message: "identity is empty"}
		}
	}
	for i, def := range schema {
		if strings.TrimSpace(def.Category) == "" {
			return &ValidationError{Field: fmt.Sprintf("attribute_schema[%d].category", i), Message: "category is required"}
		}
		if strings.TrimSpace(def.Attribute) == "" {
			return &ValidationError{Field: fmt.Sprintf("attribute_schema[%d].attribute", i), Message: "attribute is required"}
		}
	}
	return nil
}

// NormalizeConcurrency applies the default and bounds.
func NormalizeConcurrency(n int) (int, error) {
	switch {
	case n == 0:
		return DefaultConcurrency, nil
	case n < 0 || n > MaxConcurrency:
		return 0, &ValidationError{Field: "concurrency", Message: fmt.Sprintf("must be between 1 and %d", MaxConcurrency)}
	default:
		return n, nil
	}
}
