// Package cmdchannel implements C10: the single-worker FIFO that
// isolates one module binding's command execution from the rest of the
// bot. Every channel:module pair the multiplexer dispatches to gets its
// own Channel; a module that hangs or panics can only ever hurt its own
// queue.
//
// # Timeout and crash isolation without signals
//
// The original trapped SIGALRM (timeout) and SIGSEGV/SIGBUS (crash) to
// recover a worker that a module body had wedged or faulted. Go cannot
// catch a fault in a sibling goroutine, so isolation here is two
// cooperating mechanisms instead of one: a context.WithTimeout deadline
// the Job's Invoke function is expected to check, and a recover() inside
// the goroutine that actually runs Invoke, which turns any panic into
// the same "crashed" outcome a native fault would have produced. Both
// produce one CommandLog line and leave the Channel ready for its next
// Job; the worker itself never exits because of either condition.
package cmdchannel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/ircbotd/internal/container"
	"github.com/oriys/ircbotd/internal/logging"
	"github.com/oriys/ircbotd/internal/metrics"
	"github.com/oriys/ircbotd/internal/observability"
)

// Outcome classifies how a Job ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeCrashed Outcome = "crashed"
	OutcomeDropped Outcome = "dropped" // module unloaded between enqueue and dispatch
)

// Job is one unit of work on a Channel: a module invocation triggered by
// a channel message, dispatched by the multiplexer (C12) or the
// instance's per-tick interval sweep.
type Job struct {
	ID       string
	Instance string
	Channel  string
	User     string
	Module   string
	Interval bool // interval or always-module tick; no timeout is applied to these

	// Invoke runs the module body. It must check ctx.Err() at reasonable
	// intervals if it does any unbounded work; the Channel cannot
	// preempt a goroutine that never yields.
	Invoke func(ctx context.Context) error

	done chan Outcome
}

// NewJob constructs a Job with a fresh correlation ID.
func NewJob(instance, channel, user, module string, invoke func(ctx context.Context) error) *Job {
	return &Job{
		ID:       uuid.NewString(),
		Instance: instance,
		Channel:  channel,
		User:     user,
		Module:   module,
		Invoke:   invoke,
		done:     make(chan Outcome, 1),
	}
}

// State is a Channel's lifecycle state.
type State int

const (
	StateConstructed State = iota
	StateRunning
	StateRespawning
	StateDraining
	StateTerminal
)

// ErrChannelClosed is returned by Enqueue once the Channel has started
// draining or has gone terminal.
var ErrChannelClosed = errors.New("cmdchannel: channel closed")

// Channel is one module binding's single-worker job queue.
type Channel struct {
	module  string
	timeout time.Duration

	queue  *container.Queue[*Job]
	notify chan struct{}

	state    State
	stopCh   chan struct{}
	doneCh   chan struct{}
	unloaded bool
}

// New constructs a Channel for module, with timeout applied to every
// non-interval Job.
func New(module string, timeout time.Duration) *Channel {
	return &Channel{
		module:  module,
		timeout: timeout,
		queue:   container.NewQueue[*Job](),
		notify:  make(chan struct{}, 1),
		state:   StateConstructed,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the worker goroutine. Calling Start more than once is a
// programmer error and panics.
func (c *Channel) Start() {
	if c.state != StateConstructed {
		panic("cmdchannel: Channel.Start called twice")
	}
	c.state = StateRunning
	go c.run()
}

// Enqueue appends job to the tail of the queue and wakes the worker.
func (c *Channel) Enqueue(job *Job) error {
	if c.state == StateDraining || c.state == StateTerminal {
		return ErrChannelClosed
	}
	c.queue.PushBack(job)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until job has been dispatched and has produced an
// outcome.
func (job *Job) Wait() Outcome {
	return <-job.done
}

// MarkUnloaded flags the Channel's module as unloaded; any Job still in
// the queue when the worker reaches it is reported OutcomeDropped
// instead of being invoked, matching the original's "unloaded set"
// semantics for in-flight Jobs that still reference a stale handle.
func (c *Channel) MarkUnloaded() {
	c.unloaded = true
}

// Stop drains the queue (running whatever is left) and then terminates
// the worker. It blocks until the worker goroutine has exited.
func (c *Channel) Stop() {
	if c.state == StateTerminal {
		return
	}
	c.state = StateDraining
	close(c.stopCh)
	<-c.doneCh
	c.state = StateTerminal
}

func (c *Channel) run() {
	defer close(c.doneCh)

	for {
		job, ok := c.queue.PopFront()
		if !ok {
			select {
			case <-c.notify:
				continue
			case <-c.stopCh:
				// Drain whatever arrived between the last pop and stop.
				for {
					job, ok := c.queue.PopFront()
					if !ok {
						return
					}
					c.dispatch(job)
				}
			}
		}
		c.dispatch(job)
	}
}

func (c *Channel) dispatch(job *Job) {
	if c.unloaded {
		job.done <- OutcomeDropped
		c.logOutcome(job, OutcomeDropped, 0, nil)
		return
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if !job.Interval && c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	ctx, span := observability.StartSpan(ctx, "ircbot.invoke",
		observability.AttrInstance.String(job.Instance),
		observability.AttrChannel.String(job.Channel),
		observability.AttrModule.String(job.Module),
		observability.AttrRequestID.String(job.ID),
	)

	start := time.Now()
	outcome, jobErr := c.runOnce(ctx, job)
	duration := time.Since(start)
	if cancel != nil {
		cancel()
	}

	switch outcome {
	case OutcomeOK:
		observability.SetSpanOK(span)
	default:
		if jobErr != nil {
			observability.SetSpanError(span, jobErr)
		}
	}
	span.SetAttributes(observability.AttrOutcome.String(string(outcome)))
	span.End()

	c.logOutcome(job, outcome, duration, jobErr)
	job.done <- outcome
}

// runOnce executes job.Invoke in a supervised goroutine so that a panic
// inside module code is recovered here rather than crashing the worker,
// and a timed-out context is classified the same way a native fault
// would have been.
func (c *Channel) runOnce(ctx context.Context, job *Job) (Outcome, error) {
	result := make(chan error, 1)
	crashed := make(chan any, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				crashed <- r
			}
		}()
		result <- job.Invoke(ctx)
	}()

	select {
	case err := <-result:
		if err != nil {
			return classifyError(err), err
		}
		return OutcomeOK, nil
	case r := <-crashed:
		return OutcomeCrashed, fmt.Errorf("cmdchannel: module %s: %v", job.Module, r)
	case <-ctx.Done():
		if !job.Interval {
			return OutcomeTimeout, ctx.Err()
		}
		// Interval ticks are not timed out; wait for the actual result.
		select {
		case err := <-result:
			if err != nil {
				return classifyError(err), err
			}
			return OutcomeOK, nil
		case r := <-crashed:
			return OutcomeCrashed, fmt.Errorf("cmdchannel: module %s: %v", job.Module, r)
		}
	}
}

func classifyError(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	return OutcomeCrashed
}

func (c *Channel) logOutcome(job *Job, outcome Outcome, duration time.Duration, jobErr error) {
	entry := &logging.CommandLog{
		RequestID:  job.ID,
		Instance:   job.Instance,
		Channel:    job.Channel,
		User:       job.User,
		Module:     job.Module,
		DurationMs: duration.Milliseconds(),
		Outcome:    string(outcome),
	}
	if jobErr != nil {
		entry.Error = jobErr.Error()
	}
	logging.Default().Log(entry)
	metrics.Global().RecordJobOutcome(string(outcome))
}
