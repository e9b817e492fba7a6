package cowait

import (
	"context"
	"math/rand/v2"
	"time"
)

// DelaySource performs the wall-clock waits on behalf of suspended
// tasks. Dispatch receives the wait requests pending at a scheduling
// boundary and must eventually answer every one of them on resp,
// grouped into batches built through the allocator. Implementations
// run their waits in goroutines gated by sema so that the requests
// overlap in real time while the tasks stay suspended.
type DelaySource interface {
	Dispatch(
		ctx context.Context,
		alloc *BatchAllocator,
		sema chan struct{},
		reqs []*WaitRequest,
		resp chan *WaitBatch,
	)
}

// WaitRequest is one bounded wait issued by a suspended task.
type WaitRequest struct {
	task *Task
	max  time.Duration
}

// MaxDelay returns the upper bound for this wait.
func (r *WaitRequest) MaxDelay() time.Duration {
	return r.max
}

// Context returns the context of the task that issued the request.
// Sources should stop waiting when it is done.
func (r *WaitRequest) Context() context.Context {
	return r.task.ctx
}

// waitResult is the payload a task resumes with after a wait.
type waitResult struct {
	d   time.Duration
	err error
}

// WaitResponse pairs a request with its observed outcome.
type WaitResponse struct {
	req    *WaitRequest
	result waitResult
}

// WaitBatch groups wait requests with their responses. A batch is
// complete when every request has a response.
type WaitBatch struct {
	requests  []*WaitRequest
	responses []*WaitResponse
}

// Requests returns the requests in the batch.
func (b *WaitBatch) Requests() []*WaitRequest {
	return b.requests
}

// Len returns the number of requests in the batch.
func (b *WaitBatch) Len() int {
	return len(b.requests)
}

// Validate panics if the batch is incomplete. It returns the batch so
// sources can validate as they reply.
func (b *WaitBatch) Validate() *WaitBatch {
	if len(b.requests) != len(b.responses) {
		panic("cowait: incomplete wait batch")
	}
	return b
}

// BatchAllocator builds wait batches for a schedule.
type BatchAllocator struct{}

// NewBatch creates a batch holding the given requests.
func (a *BatchAllocator) NewBatch(requests ...*WaitRequest) *WaitBatch {
	batch := new(WaitBatch)
	a.AddBatchRequest(batch, requests...)
	return batch
}

// AddBatchRequest appends requests to the batch.
func (a *BatchAllocator) AddBatchRequest(batch *WaitBatch, requests ...*WaitRequest) {
	batch.requests = append(batch.requests, requests...)
}

// SetBatchDuration records the observed duration for the i-th request.
func (a *BatchAllocator) SetBatchDuration(batch *WaitBatch, i int, d time.Duration) {
	resp := WaitResponse{req: batch.requests[i], result: waitResult{d: d}}
	batch.responses = append(batch.responses, &resp)
}

// SetBatchError records a wait failure for the i-th request. The
// error resumes the owning task unchanged.
func (a *BatchAllocator) SetBatchError(batch *WaitBatch, i int, err error) {
	resp := WaitResponse{req: batch.requests[i], result: waitResult{err: err}}
	batch.responses = append(batch.responses, &resp)
}

// waitQueue accumulates the requests issued since the last dispatch.
type waitQueue struct {
	requests []*WaitRequest
}

func newWaitQueue() *waitQueue {
	return new(waitQueue)
}

func (q *waitQueue) add(reqs ...*WaitRequest) {
	q.requests = append(q.requests, reqs...)
}

func (q *waitQueue) reset() {
	q.requests = make([]*WaitRequest, 0)
}

func (q *waitQueue) len() int {
	return len(q.requests)
}

// RandomSource is the stock DelaySource. For each request it samples
// a uniform duration in [0, max], sleeps for it in a dispatcher
// goroutine, and responds with the sampled duration. A wait cut short
// by context cancellation responds with the context's error instead.
type RandomSource struct{}

func (s *RandomSource) Dispatch(
	ctx context.Context,
	alloc *BatchAllocator,
	sema chan struct{},
	reqs []*WaitRequest,
	resp chan *WaitBatch,
) {
	for _, req := range reqs {
		batch := alloc.NewBatch(req)
		go func() {
			sema <- struct{}{}
			defer func() { <-sema }()

			d := sampleDelay(req.MaxDelay())
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

// sampleDelay returns a uniform duration in [0, max] inclusive.
func sampleDelay(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max + 1)
}
