package txexec

import (
	"context"

	"go.uber.org/zap"
)

// BatchItemResult is the outcome of one sequentially-executed batch item.
type BatchItemResult struct {
	Index int `json:"index"`
	// Success reports the item's own outcome, independent of siblings.
	Success bool `json:"success"`
	// Artifact carries whatever the operation produced (an address, an id).
	Artifact string `json:"artifact,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []BatchItemResult `json:"results"`
}

// BatchFunc executes one batch item and returns its produced artifact.
type BatchFunc func(ctx context.Context, index int) (artifact string, err error)

// RunBatch drives n logically-independent items sequentially, continuing
// past individual failures. The result list always has exactly n entries in
// input order; one item's failure never aborts its siblings.
func RunBatch(ctx context.Context, n int, fn BatchFunc, logger *zap.Logger) BatchSummary {
	summary := BatchSummary{
		Total:   n,
		Results: make([]BatchItemResult, 0, n),
	}
	for i := 0; i < n; i++ {
		result := BatchItemResult{Index: i}
		if err := ctx.Err(); err != nil {
			// Deadline mid-batch: remaining items report the cancellation
			// rather than being silently dropped.
			result.Error = err.Error()
			summary.Failed++
			summary.Results = append(summary.Results, result)
			continue
		}
		artifact, err := fn(ctx, i)
		if err != nil {
			result.Error = err.Error()
			summary.Failed++
			logger.Warn("batch item failed",
				zap.Int("index", i), zap.Error(err))
		} else {
			result.Success = true
			result.Artifact = artifact
			summary.Succeeded++
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}
