// Package resolver maps an item's category to the attribute names it needs.
package resolver

import (
	"strings"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// Resolve returns the attribute names of schema entries whose category
// matches categoryKey, ignoring case and surrounding whitespace. Order follows
// the schema; repeated names keep the first spelling. An empty result means
// the item has nothing to enrich.
func Resolve(categoryKey string, schema []domain.AttributeDef) []string {
	key := normalize(categoryKey)
	if key == "" {
		return nil
	}

	var names []string
	seen := make(map[string]struct{})
	for _, def := range schema {
		if normalize(def.Category) != key {
			continue
		}
		name := strings.TrimSpace(def.Attribute)
		folded := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Categories lists the distinct categories of schema in first-seen order.
func Categories(schema []domain.AttributeDef) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, def := range schema {
		k := normalize(def.Category)
		if _, dup := seen[k]; dup || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, strings.TrimSpace(def.Category))
	}
	return out
}

// Unmatched returns the category keys of items that no schema entry covers.
func Unmatched(items []domain.WorkItem, schema []domain.AttributeDef) []string {
	known := make(map[string]struct{})
	for _, c := range Categories(schema) {
		known[normalize(c)] = struct{}{}
	}

	var out []string
	reported := make(map[string]struct{})
	for _, it := range items {
		k := normalize(it.CategoryKey)
		if _, ok := known[k]; ok {
			continue
		}
		if _, dup := reported[k]; dup {
			continue
		}
		reported[k] = struct{}{}
		out = append(out, it.CategoryKey)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
