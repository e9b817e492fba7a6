package cowait

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptSource answers each wait with the next scripted duration,
// cycling when the script runs out. Responses are sent from
// goroutines without sleeping, so arrival order is arbitrary. A
// request whose script index equals failAt answers with failErr
// instead.
type scriptSource struct {
	delays  []time.Duration
	next    int
	failAt  int
	failErr error
	calls   atomic.Int64
}

func newScriptSource(delays ...time.Duration) *scriptSource {
	return &scriptSource{delays: delays, failAt: -1}
}

func (s *scriptSource) Dispatch(
	_ context.Context,
	alloc *BatchAllocator,
	sema chan struct{},
	reqs []*WaitRequest,
	resp chan *WaitBatch,
) {
	for _, req := range reqs {
		idx := s.next
		s.next++
		s.calls.Add(1)

		batch := alloc.NewBatch(req)
		go func() {
			sema <- struct{}{}
			defer func() { <-sema }()

			if idx == s.failAt {
				alloc.SetBatchError(batch, 0, s.failErr)
			} else {
				alloc.SetBatchDuration(batch, 0, s.delays[idx%len(s.delays)])
			}

			resp <- batch.Validate()
		}()
	}
}

// sleepSource actually sleeps each scripted duration before
// answering, honoring context cancellation mid-sleep.
type sleepSource struct {
	delays []time.Duration
	next   int
}

func (s *sleepSource) Dispatch(
	_ context.Context,
	alloc *BatchAllocator,
	sema chan struct{},
	reqs []*WaitRequest,
	resp chan *WaitBatch,
) {
	for _, req := range reqs {
		d := s.delays[s.next%len(s.delays)]
		s.next++

		batch := alloc.NewBatch(req)
		go func() {
			sema <- struct{}{}
			defer func() { <-sema }()

			timer := time.NewTimer(d)
			defer timer.Stop()

			select {
			case <-timer.C:
				alloc.SetBatchDuration(batch, 0, d)
			case <-req.Context().Done():
				alloc.SetBatchError(batch, 0, req.Context().Err())
			}

			resp <- batch.Validate()
		}()
	}
}

func TestCollectSorted(t *testing.T) {
	r := require.New(t)

	source := newScriptSource(
		3200*time.Millisecond,
		100*time.Millisecond,
		7800*time.Millisecond,
		100*time.Millisecond,
		9900*time.Millisecond,
	)

	batch, err := NewCollector(source).Collect(context.Background(), 5, 10*time.Second)
	r.NoError(err)
	r.Equal([]time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		3200 * time.Millisecond,
		7800 * time.Millisecond,
		9900 * time.Millisecond,
	}, batch)
}

func TestCollectRandom(t *testing.T) {
	r := require.New(t)

	maxDelay := 20 * time.Millisecond
	batch, err := NewRandomCollector().Collect(context.Background(), 8, maxDelay)
	r.NoError(err)
	r.Len(batch, 8)

	for i, d := range batch {
		r.GreaterOrEqual(d, time.Duration(0))
		r.LessOrEqual(d, maxDelay)
		if i > 0 {
			r.LessOrEqual(batch[i-1], d)
		}
	}
}

func TestCollectZero(t *testing.T) {
	r := require.New(t)

	source := newScriptSource(time.Second)

	batch, err := NewCollector(source).Collect(context.Background(), 0, 5*time.Second)
	r.NoError(err)
	r.NotNil(batch)
	r.Empty(batch)
	r.Zero(source.calls.Load())
}

func TestCollectNegative(t *testing.T) {
	r := require.New(t)

	source := newScriptSource(time.Second)
	collector := NewCollector(source)

	_, err := collector.Collect(context.Background(), -1, time.Second)
	r.ErrorIs(err, ErrNegativeCount)

	_, err = collector.Collect(context.Background(), 3, -time.Second)
	r.ErrorIs(err, ErrNegativeDelay)

	_, err = collector.Collect(context.Background(), 0, -time.Second)
	r.ErrorIs(err, ErrNegativeDelay)

	r.Zero(source.calls.Load())
}

func TestCollectOverlap(t *testing.T) {
	r := require.New(t)

	source := &sleepSource{delays: []time.Duration{
		50 * time.Millisecond,
		300 * time.Millisecond,
		100 * time.Millisecond,
	}}

	start := time.Now()
	batch, err := NewCollector(source).Collect(context.Background(), 3, 300*time.Millisecond)
	elapsed := time.Since(start)

	r.NoError(err)
	r.Equal([]time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		300 * time.Millisecond,
	}, batch)

	// All three waits overlap: total time tracks the longest wait
	// (300ms), not the 450ms sum.
	r.GreaterOrEqual(elapsed, 300*time.Millisecond)
	r.Less(elapsed, 420*time.Millisecond)
}

func TestCollectSourceError(t *testing.T) {
	r := require.New(t)

	errBoom := errors.New("source exhausted")
	source := newScriptSource(time.Millisecond)
	source.failAt = 2
	source.failErr = errBoom

	batch, err := NewCollector(source).Collect(context.Background(), 4, time.Second)
	r.ErrorIs(err, errBoom)
	r.Nil(batch)
}

func TestCollectCancel(t *testing.T) {
	r := require.New(t)

	source := &sleepSource{delays: []time.Duration{2 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	batch, err := NewCollector(source).Collect(ctx, 3, 2*time.Second)
	elapsed := time.Since(start)

	r.ErrorIs(err, context.DeadlineExceeded)
	r.Nil(batch)
	r.Less(elapsed, time.Second)
}

func TestWait(t *testing.T) {
	r := require.New(t)

	source := newScriptSource(42 * time.Millisecond)

	d, err := NewCollector(source).Wait(context.Background(), time.Second)
	r.NoError(err)
	r.Equal(42*time.Millisecond, d)

	d, err = NewRandomCollector().Wait(context.Background(), 10*time.Millisecond)
	r.NoError(err)
	r.GreaterOrEqual(d, time.Duration(0))
	r.LessOrEqual(d, 10*time.Millisecond)
}

func TestMeasure(t *testing.T) {
	r := require.New(t)

	source := &sleepSource{delays: []time.Duration{40 * time.Millisecond}}
	collector := NewCollector(source)

	// Four overlapping 40ms waits finish in ~40ms total, so the
	// per-wait share is ~10ms.
	avg, err := collector.Measure(context.Background(), 4, 40*time.Millisecond)
	r.NoError(err)
	r.GreaterOrEqual(avg, 10*time.Millisecond)
	r.Less(avg, 30*time.Millisecond)

	avg, err = collector.Measure(context.Background(), 0, time.Second)
	r.NoError(err)
	r.Zero(avg)

	_, err = collector.Measure(context.Background(), -2, time.Second)
	r.ErrorIs(err, ErrNegativeCount)
}

func TestInsert(t *testing.T) {
	r := require.New(t)

	var batch []time.Duration
	for _, d := range []time.Duration{5, 1, 4, 1, 3} {
		batch = insert(batch, d)
	}
	r.Equal([]time.Duration{1, 1, 3, 4, 5}, batch)
}
