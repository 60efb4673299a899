package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// DefaultCharBudget bounds the attribute names sent in one call.
const DefaultCharBudget = 1500

// nameSeparatorLen accounts for the ", " between names.
const nameSeparatorLen = 2

// BatchingClient splits long attribute lists into sub-batches and merges the
// partial results. It fails only when every sub-batch fails.
type BatchingClient struct {
	next   Client
	budget int
	log    logger.Logger
}

// NewBatchingClient wraps next. A budget of zero uses DefaultCharBudget.
func NewBatchingClient(next Client, budget int, log logger.Logger) *BatchingClient {
	if budget <= 0 {
		budget = DefaultCharBudget
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BatchingClient{next: next, budget: budget, log: log}
}

// Lookup calls the wrapped client once per sub-batch, in order.
func (c *BatchingClient) Lookup(ctx context.Context, identity domain.Identity, names []string) (Result, error) {
	if len(names) == 0 {
		return Result{}, nil
	}

	batches := SplitNames(names, c.budget)
	merged := make(Result, len(names))
	var errs []error
	succeeded := 0

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := c.next.Lookup(ctx, identity, batch)
		if err != nil {
			errs = append(errs, err)
			c.log.Warn("Lookup sub-batch failed",
				logger.Int("batch", i),
				logger.Int("batches", len(batches)),
				logger.Int("names", len(batch)),
				logger.Error(err),
			)
			continue
		}
		succeeded++
		for k, v := range res {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}

	if succeeded == 0 {
		return nil, lookupError(fmt.Sprintf("all %d sub-batches failed", len(batches)), errors.Join(errs...))
	}
	return merged, nil
}

// SplitNames groups names so each group's total length, separators included,
// stays within budget. A name longer than budget gets a group of its own.
func SplitNames(names []string, budget int) [][]string {
	if len(names) == 0 {
		return nil
	}
	if budget <= 0 {
		return [][]string{names}
	}

	var out [][]string
	var current []string
	size := 0
	for _, n := range names {
		cost := len(n)
		if len(current) > 0 {
			cost += nameSeparatorLen
		}
		if len(current) > 0 && size+cost > budget {
			out = append(out, current)
			current, size = nil, 0
			cost = len(n)
		}
		current = append(current, n)
		size += cost
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}
