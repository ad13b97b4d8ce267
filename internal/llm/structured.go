package llm

import (
	"context"
	"fmt"

	"paideia/internal/extract"
	"paideia/internal/logging"

	"go.uber.org/zap"
)

// defaultRetryBudget is the output-token budget used when a truncated
// response arrives from a call that had no explicit budget.
const defaultRetryBudget = 4096

// CallStats records how a structured call was satisfied.
type CallStats struct {
	Attempts     int
	Retries      int
	UsedFallback bool
}

// Structured invokes a model and extracts a schema-validated result,
// applying the failure-reason retry policy:
//
//   - empty/truncated: retry with an increased output budget, then the
//     fallback model if one is configured
//   - schema-mismatch: one corrective re-prompt naming the missing fields
//   - invalid-syntax: one same-prompt retry, then the fallback model
//
// Transport errors get one retry on the primary before giving up.
func Structured(ctx context.Context, primary, fallback Client, prompt string, opts Options, schema extract.Schema) (extract.Result, CallStats, error) {
	stats := CallStats{}
	log := logging.L(logging.CategoryExtract)

	call := func(c Client, p string, o Options) (extract.Result, *extract.ParseFailure, error) {
		stats.Attempts++
		raw, err := c.CompleteWithOptions(ctx, p, o)
		if err != nil {
			return nil, nil, err
		}
		res, fail := extract.Extract(raw, schema)
		return res, fail, nil
	}

	res, fail, err := call(primary, prompt, opts)
	if err != nil {
		// One transport retry before declaring the call dead.
		stats.Retries++
		res, fail, err = call(primary, prompt, opts)
		if err != nil {
			return nil, stats, fmt.Errorf("model call failed: %w", err)
		}
	}
	if fail == nil {
		return res, stats, nil
	}

	log.Debug("structured extraction failed, applying retry policy",
		zap.String("reason", string(fail.Reason)),
		zap.String("model", primary.Model()))

	switch fail.Reason {
	case extract.ReasonEmpty, extract.ReasonTruncated:
		retryOpts := opts
		if retryOpts.MaxOutputTokens > 0 {
			retryOpts.MaxOutputTokens *= 2
		} else {
			retryOpts.MaxOutputTokens = defaultRetryBudget
		}
		stats.Retries++
		res, fail, err = call(primary, prompt, retryOpts)
		if err == nil && fail == nil {
			return res, stats, nil
		}
		if fallback != nil {
			stats.Retries++
			stats.UsedFallback = true
			res, fail, err = call(fallback, prompt, retryOpts)
		}

	case extract.ReasonSchemaMismatch:
		corrective := fmt.Sprintf(
			"%s\n\nYour previous response did not match the required format (%s). "+
				"Respond again with ONLY a JSON object containing the required fields.",
			prompt, fail.Detail)
		stats.Retries++
		res, fail, err = call(primary, corrective, opts)

	case extract.ReasonInvalidSyntax:
		stats.Retries++
		res, fail, err = call(primary, prompt, opts)
		if err == nil && fail == nil {
			return res, stats, nil
		}
		if fallback != nil {
			stats.Retries++
			stats.UsedFallback = true
			res, fail, err = call(fallback, prompt, opts)
		}
	}

	if err != nil {
		return nil, stats, fmt.Errorf("model call failed after retry: %w", err)
	}
	if fail != nil {
		return nil, stats, fail
	}
	return res, stats, nil
}
