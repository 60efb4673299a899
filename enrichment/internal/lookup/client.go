// Package lookup defines the enrichment lookup contract and its backends.
//
// A Client is given a product identity and a list of attribute names and
// returns values for whichever names it could fill. Failures are reported as
// *domain.LookupError so the runner can record them on the item.
package lookup

import (
	"context"
	"strings"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// Result maps attribute names to values. It may cover only some of the
// requested names.
type Result map[string]string

// Client looks up attribute values for one product.
type Client interface {
	Lookup(ctx context.Context, identity domain.Identity, names []string) (Result, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, identity domain.Identity, names []string) (Result, error)

// Lookup calls f.
func (f Func) Lookup(ctx context.Context, identity domain.Identity, names []string) (Result, error) {
	return f(ctx, identity, names)
}

// Select keeps the non-empty values for the requested names. Keys are matched
// case-insensitively and returned in the requested spelling; other keys are
// dropped.
func (r Result) Select(names []string) map[string]string {
	out := make(map[string]string, len(names))
	if len(r) == 0 {
		return out
	}

	folded := make(map[string]string, len(r))
	for k, v := range r {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, dup := folded[key]; dup && IsEmptyValue(v) {
			continue
		}
		folded[key] = v
	}

	for _, name := range names {
		v, ok := r[name]
		if !ok || IsEmptyValue(v) {
			v, ok = folded[strings.ToLower(strings.TrimSpace(name))]
		}
		if !ok || IsEmptyValue(v) {
			continue
		}
		out[name] = strings.TrimSpace(v)
	}
	return out
}

// IsEmptyValue reports whether v is a placeholder rather than a value.
func IsEmptyValue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "n/a", "unknown", "null", "none", "-":
		return true
	default:
		return false
	}
}

func lookupError(reason string, err error) error {
	return &domain.LookupError{Reason: reason, Err: err}
}
