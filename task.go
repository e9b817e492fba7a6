package cowait

import (
	"context"
	"fmt"
	"runtime/trace"
	"strings"
	"time"

	"github.com/webriots/coro"
)

const (
	taskTraceTaskType   = "cowait-task"
	taskTraceRegionType = "cowait-region"
	taskTraceCategory   = "cowait"
)

// Task is a coroutine-like unit of work. A task can spawn child
// tasks, suspend on a bounded random wait, and join on its children.
// All tasks created under one Resumable share one logical thread of
// control.
type Task struct {
	ctx     context.Context
	suspend func() waitResult
	resume  func(waitResult) (struct{}, bool)
	cancel  func()
	pending *waitQueue
	sched   *Schedule
	parent  *Task
	childn  int
	norun   bool
}

// loop drives the scheduler: resume the root task until it suspends,
// flush pending wait requests to the delay source, then drain
// response batches and resume the owning tasks until no waits remain
// in flight.
func loop(
	ctx context.Context,
	fn func(context.Context, *Task),
	sched *Schedule,
) {
	var tracer *trace.Task

	ctx, tracer = trace.NewTask(ctx, taskTraceTaskType)
	defer tracer.End()

	program := func(ctx context.Context, task *Task) {
		fn(ctx, task)
		task.Wait()
	}

	t := newTask(ctx, program, nil)
	t.sched = sched
	defer t.cancel()

	trace.Logf(ctx, taskTraceCategory, "LOOP")

	for t.resumez() {
		for inflight := 0; t.pending.len() > 0 || inflight > 0; {
			trace.Logf(ctx, taskTraceCategory, "LOOP DISPATCH %v INFLIGHT %v", t.pending.len(), inflight)

			if t.pending.len() > 0 {
				t.sched.source.Dispatch(
					t.ctx,
					t.sched.alloc,
					t.sched.sema,
					t.pending.requests,
					t.sched.responses,
				)
			}

			inflight += t.pending.len()
			trace.Log(ctx, taskTraceCategory, "WAIT RESP")
			batch := <-t.sched.responses
			t.pending.reset()

		again:
			batch.Validate()
			inflight -= batch.Len()

			for _, resp := range batch.responses {
				task := resp.req.task
				task.Log("WAIT RESP")
				task.norun = false
				task.run(resp.result)
			}
			select {
			case batch = <-t.sched.responses:
				goto again
			default:
			}
		}
	}

	if t.childn > 0 {
		panic("cowait: task.childn > 0")
	}

	trace.Log(ctx, taskTraceCategory, "LOOP DONE")
}

func newTask(
	ctx context.Context,
	fn func(context.Context, *Task),
	parent *Task,
) *Task {
	task := &Task{
		parent: parent,
	}

	if task.parent == nil {
		task.pending = newWaitQueue()
	} else {
		task.pending = task.parent.pending
		task.sched = task.parent.sched
		task.parent.childn++
	}

	task.ctx = withTaskContext(ctx, task)

	resume, cancel := coro.New(
		func(_ func(struct{}) waitResult, suspend func() waitResult) (z struct{}) {
			region := trace.StartRegion(task.ctx, taskTraceRegionType)

			defer func() {
				if task.parent != nil {
					task.parent.childn--
				}
				region.End()
			}()

			task.suspend = suspend

			fn(task.ctx, task)

			return
		},
	)

	task.resume = resume
	task.cancel = cancel
	return task
}

func (t *Task) gogoctx(ctx context.Context, fn func(context.Context, *Task)) {
	task := newTask(ctx, fn, t)
	task.Log("GO")
	task.resumez()
}

func (t *Task) goctx(ctx context.Context, fn func(context.Context)) {
	t.gogoctx(ctx, t.sched.Fn(fn))
}

// Gogo spawns a child task running fn.
func (t *Task) Gogo(fn func(context.Context, *Task)) {
	t.gogoctx(t.ctx, fn)
}

// Go spawns a child task running a context-only function.
func (t *Task) Go(fn func(context.Context)) {
	t.Gogo(t.sched.Fn(fn))
}

// WaitRandom suspends the task on one bounded random wait and returns
// the observed duration once the delay source answers. A source
// failure is returned unchanged.
func (t *Task) WaitRandom(max time.Duration) (time.Duration, error) {
	t.Logf("WAIT RANDOM %v", max)

	req := &WaitRequest{task: t, max: max}
	t.pending.add(req)
	t.norun = true

	res := t.suspend()
	return res.d, res.err
}

// Group returns a new error group bound to this task.
func (t *Task) Group() ErrGroup {
	return newErrGroup(t)
}

// Wait suspends the task until all of its children have completed. It
// returns immediately when the task has no children.
func (t *Task) Wait() {
	t.Log("WAIT")

	if t.childn > 0 {
		t.suspend()
	}
}

func (t *Task) run(res waitResult) {
	t.Log("RUN")

	if _, ok := t.resume(res); ok {
		return
	}

	if t.parent == nil {
		return
	}

	if t.parent.norun {
		return
	}

	if t.parent.childn == 0 {
		t.parent.runz()
	}
}

func (t *Task) resumez() bool {
	var z waitResult
	_, ok := t.resume(z)
	return ok
}

func (t *Task) runz() {
	var z waitResult
	t.run(z)
}

func (t *Task) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		taskpath(&sb, t)
		sb.WriteRune(' ')
		sb.WriteString(msg)
		trace.Log(t.ctx, taskTraceCategory, sb.String())
	}
}

func (t *Task) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		taskpath(&sb, t)
		sb.WriteRune(' ')
		fmt.Fprintf(&sb, format, args...)
		trace.Log(t.ctx, taskTraceCategory, sb.String())
	}
}

func taskpath(sb *strings.Builder, t *Task) {
	if t == nil {
		return
	}
	taskpath(sb, t.parent)
	fmt.Fprintf(sb, "%p|", t)
}
