package runner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/runner"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		required int
		filled   int
		want     domain.ItemStatus
	}{
		{name: "nothing required", required: 0, filled: 0, want: domain.ItemSuccess},
		{name: "all filled", required: 10, filled: 10, want: domain.ItemSuccess},
		{name: "at threshold", required: 10, filled: 7, want: domain.ItemSuccess},
		{name: "just below threshold", required: 10, filled: 6, want: domain.ItemPartial},
		{name: "one value", required: 10, filled: 1, want: domain.ItemPartial},
		{name: "no values", required: 10, filled: 0, want: domain.ItemFailed},
		{name: "single required filled", required: 1, filled: 1, want: domain.ItemSuccess},
		{name: "two of three", required: 3, filled: 2, want: domain.ItemPartial},
		{name: "overfilled clamps", required: 2, filled: 5, want: domain.ItemSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, runner.Classify(tt.required, tt.filled, runner.DefaultSuccessThreshold))
		})
	}
}
