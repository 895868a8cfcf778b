// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// retryPolicy reruns a unit of work that failed with a transient error.
// The wait before attempt n+1 is drawn from the upper half of base<<(n-1).
type retryPolicy struct {
	attempts  int
	base      time.Duration
	retryable func(error) bool // nil treats every error as transient
	logger    *slog.Logger
}

// run calls op with 1-based attempt numbers until it succeeds, fails with a
// permanent error, the attempts are spent or ctx ends. It returns the number
// of attempts made and the last error.
func (p retryPolicy) run(ctx context.Context, op func(attempt int) error) (int, error) {
	if p.attempts <= 0 {
		return 0, ErrInvalidMaxAttempts
	}
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	attempt := 0
	for attempt < p.attempts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		attempt++
		if err = op(attempt); err == nil {
			return attempt, nil
		}
		if p.retryable != nil && !p.retryable(err) {
			return attempt, err
		}
		if attempt == p.attempts {
			break
		}
		logger.Debug("transient failure", "attempt", attempt, "of", p.attempts, "err", err)
		if waitErr := sleepCtx(ctx, p.wait(attempt)); waitErr != nil {
			return attempt, waitErr
		}
	}
	return attempt, err
}

func (p retryPolicy) wait(attempt int) time.Duration {
	full := p.base << (attempt - 1)
	if full <= 1 {
		return full
	}
	return full/2 + rand.N(full/2+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
