// Package fallback runs an operation against an ordered list of candidate
// backends: the first success wins, and when every candidate fails the
// per-candidate errors are aggregated into a single error.
package fallback

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Config struct {
	Candidates []string
	Logger     *zap.Logger
}

// Do tries operation against each candidate in order. Unlike a retry loop
// there is no delay between attempts: each candidate is assumed to be an
// independent backend, not a transient failure of the same one.
func Do(ctx context.Context, cfg Config, operation func(candidate string) error) error {
	if len(cfg.Candidates) == 0 {
		return fmt.Errorf("no candidates configured")
	}

	var combined error

	for _, candidate := range cfg.Candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation(candidate)
		if err == nil {
			if cfg.Logger != nil {
				cfg.Logger.Debug("Candidate succeeded", zap.String("candidate", candidate))
			}
			return nil
		}

		if cfg.Logger != nil {
			cfg.Logger.Warn("Candidate failed, trying next",
				zap.String("candidate", candidate),
				zap.Error(err),
			)
		}

		combined = multierr.Append(combined, fmt.Errorf("%s: %w", candidate, err))
	}

	return fmt.Errorf("all %d candidates failed: %w", len(cfg.Candidates), combined)
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, operation func(candidate string) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(candidate string) error {
		var opErr error
		result, opErr = operation(candidate)
		return opErr
	})
	return result, err
}
