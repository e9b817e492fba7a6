package cowait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNegativeCount = errors.New("cowait: negative wait count")
	ErrNegativeDelay = errors.New("cowait: negative max delay")
)

// Collector runs batches of logically concurrent waits against a
// delay source and collects their observed durations.
type Collector struct {
	source DelaySource
}

// NewCollector creates a Collector backed by the given delay source.
func NewCollector(source DelaySource) *Collector {
	return &Collector{source: source}
}

// NewRandomCollector creates a Collector backed by the stock
// RandomSource.
func NewRandomCollector() *Collector {
	return NewCollector(new(RandomSource))
}

// Collect spawns n concurrent waits, each bounded by maxDelay, and
// returns the observed durations sorted ascending. The result order
// is independent of completion and submission order: each duration is
// placed as it arrives by shifting it left past larger placed values.
//
// Negative n or maxDelay fails before any wait is dispatched. If any
// one of the n waits fails, the whole collection fails with the first
// error and no partial result.
func (c *Collector) Collect(ctx context.Context, n int, maxDelay time.Duration) ([]time.Duration, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeCount, n)
	}
	if maxDelay < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNegativeDelay, maxDelay)
	}

	batch := make([]time.Duration, 0, n)
	if n == 0 {
		return batch, nil
	}

	var waitErr error
	Source(c.source).Run(func(_ context.Context, task *Task) {
		group := task.Group()
		for i := 0; i < n; i++ {
			group.Go(func(ctx context.Context) error {
				task := MustTaskFromContext(ctx)

				d, err := task.WaitRandom(maxDelay)
				if err != nil {
					return err
				}

				batch = insert(batch, d)
				return nil
			})
		}
		waitErr = group.Wait(task)
	}).Resume(ctx)

	if waitErr != nil {
		return nil, waitErr
	}
	return batch, nil
}

// Wait spawns a single bounded wait and returns its observed
// duration.
func (c *Collector) Wait(ctx context.Context, maxDelay time.Duration) (time.Duration, error) {
	batch, err := c.Collect(ctx, 1, maxDelay)
	if err != nil {
		return 0, err
	}
	return batch[0], nil
}

// Measure runs a full Collect of n waits and returns the wall-clock
// time it took divided by n. With concurrent waits this approaches
// the longest single wait over n, not the mean wait.
func (c *Collector) Measure(ctx context.Context, n int, maxDelay time.Duration) (time.Duration, error) {
	start := time.Now()

	if _, err := c.Collect(ctx, n, maxDelay); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	return time.Since(start) / time.Duration(n), nil
}

// insert places d into the sorted batch, shifting it left past all
// larger already-placed values.
func insert(batch []time.Duration, d time.Duration) []time.Duration {
	batch = append(batch, d)

	i := len(batch) - 1
	for i > 0 && d < batch[i-1] {
		batch[i] = batch[i-1]
		i--
	}
	batch[i] = d

	return batch
}
