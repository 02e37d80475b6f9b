// Package worker implements the bounded task execution pool: a
// single-flight lane for non-batchable executors and a K-wide concurrent
// lane for batchable ones, both cooperatively cancellable and deadline
// aware.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sage-x-project/compute-node/executor"
	"github.com/sage-x-project/compute-node/internal/nodeerr"
)

// ErrPoolFull is returned by Submit when the input channel has no spare
// capacity. Callers map this to an Ignore verdict so the pub/sub substrate
// can retry the originating message on its own schedule, rather than
// blocking the orchestrator's single select loop.
var ErrPoolFull = errors.New("worker pool full")

// inputChannelCapacity bounds the worker input channel; the orchestrator
// treats a full channel as backpressure, marking the originating gossip
// message Ignore rather than blocking.
const inputChannelCapacity = 256

// batchConcurrency is K, the number of batchable tasks allowed to execute
// concurrently.
const batchConcurrency = 8

// Stats carries the timestamps a task accumulates as it moves through the
// pipeline.
type Stats struct {
	ReceivedAt  time.Time
	PublishedAt time.Time
}

// Input is one unit of work accepted by the orchestrator and handed to the
// pool.
type Input struct {
	TaskID             string
	Executor           executor.Executor
	Entry              executor.Entry
	ModelName          string
	RequesterPublicKey []byte
	Stats              Stats
	Deadline           time.Time
	Batchable          bool
}

// ResultKind distinguishes a successful execution from a failure.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultFailure
)

// FailureReason classifies why a task did not produce a result, for
// logging and for the error response payload.
type FailureReason string

const (
	ReasonExpired   FailureReason = "expired"
	ReasonCancelled FailureReason = "cancelled"
	ReasonExecutor  FailureReason = "executor_error"
)

// Output is the pool's result record for one Input, consumed by the
// response publisher.
type Output struct {
	TaskID             string
	Kind               ResultKind
	Plaintext          string
	FailureReason      FailureReason
	Err                error
	ModelName          string
	RequesterPublicKey []byte
	Stats              Stats
}

// Pool runs Inputs across the single-flight and batchable lanes and emits
// one Output per accepted Input.
type Pool struct {
	in  chan Input
	out chan Output

	singleFlight chan Input
	sem          *semaphore.Weighted

	wg sync.WaitGroup
}

// NewPool constructs a pool with bounded input and output channels. Callers
// must call Run in its own goroutine before sending to Submit.
func NewPool() *Pool {
	return &Pool{
		in:           make(chan Input, inputChannelCapacity),
		out:          make(chan Output, inputChannelCapacity),
		singleFlight: make(chan Input, inputChannelCapacity),
		sem:          semaphore.NewWeighted(batchConcurrency),
	}
}

// Submit enqueues input for execution without blocking. If the input
// channel has no spare capacity it returns ErrPoolFull immediately instead
// of waiting for a slot, so the orchestrator's single select loop never
// stalls under sustained load.
func (p *Pool) Submit(ctx context.Context, in Input) error {
	select {
	case p.in <- in:
		return nil
	case <-ctx.Done():
		return nodeerr.New(nodeerr.Cancelled, "submit task", ctx.Err())
	default:
		return nodeerr.New(nodeerr.Transport, "submit task", ErrPoolFull)
	}
}

// Outputs returns the channel completed task results are delivered on.
func (p *Pool) Outputs() <-chan Output { return p.out }

// Run drains the input channel until ctx is cancelled or closed, routing
// each task to its lane, and blocks until every dispatched task has
// emitted its Output before closing the output channel.
func (p *Pool) Run(ctx context.Context) {
	defer close(p.out)

	singleFlightDone := make(chan struct{})
	go func() {
		defer close(singleFlightDone)
		p.runSingleFlight(ctx)
	}()

routing:
	for {
		select {
		case in, ok := <-p.in:
			if !ok {
				break routing
			}
			if in.Batchable {
				p.wg.Add(1)
				go p.runBatchable(ctx, in)
			} else {
				select {
				case p.singleFlight <- in:
				case <-ctx.Done():
					p.out <- cancelledOutput(ctx, in)
				}
			}
		case <-ctx.Done():
			break routing
		}
	}

	// Inputs still queued when ctx was cancelled get a cancelled Output
	// rather than being dropped.
drain:
	for {
		select {
		case in, ok := <-p.in:
			if !ok {
				break drain
			}
			p.out <- cancelledOutput(ctx, in)
		default:
			break drain
		}
	}

	close(p.singleFlight)
	<-singleFlightDone
	p.wg.Wait()
}

func (p *Pool) runSingleFlight(ctx context.Context) {
	for {
		select {
		case in, ok := <-p.singleFlight:
			if !ok {
				return
			}
			p.out <- p.execute(ctx, in)
		case <-ctx.Done():
			// Drain remaining queued single-flight tasks as cancelled so
			// none are silently forgotten.
			for in := range p.singleFlight {
				p.out <- cancelledOutput(ctx, in)
			}
			return
		}
	}
}

func (p *Pool) runBatchable(ctx context.Context, in Input) {
	defer p.wg.Done()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.out <- cancelledOutput(ctx, in)
		return
	}
	defer p.sem.Release(1)
	p.out <- p.execute(ctx, in)
}

func (p *Pool) execute(ctx context.Context, in Input) Output {
	if !in.Deadline.IsZero() && time.Now().After(in.Deadline) {
		return Output{
			TaskID:             in.TaskID,
			Kind:               ResultFailure,
			FailureReason:      ReasonExpired,
			ModelName:          in.ModelName,
			RequesterPublicKey: in.RequesterPublicKey,
			Stats:              in.Stats,
		}
	}

	select {
	case <-ctx.Done():
		return cancelledOutput(ctx, in)
	default:
	}

	taskCtx := ctx
	if !in.Deadline.IsZero() {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithDeadline(ctx, in.Deadline)
		defer cancel()
	}

	result, err := in.Executor.Execute(taskCtx, in.ModelName, in.Entry)
	if err != nil {
		if ctx.Err() != nil {
			return cancelledOutput(ctx, in)
		}
		return Output{
			TaskID:             in.TaskID,
			Kind:               ResultFailure,
			FailureReason:      ReasonExecutor,
			Err:                nodeerr.New(nodeerr.Executor, "execute task", err),
			ModelName:          in.ModelName,
			RequesterPublicKey: in.RequesterPublicKey,
			Stats:              in.Stats,
		}
	}

	return Output{
		TaskID:             in.TaskID,
		Kind:               ResultSuccess,
		Plaintext:          result,
		ModelName:          in.ModelName,
		RequesterPublicKey: in.RequesterPublicKey,
		Stats:              in.Stats,
	}
}

func cancelledOutput(ctx context.Context, in Input) Output {
	return Output{
		TaskID:             in.TaskID,
		Kind:               ResultFailure,
		FailureReason:      ReasonCancelled,
		Err:                nodeerr.New(nodeerr.Cancelled, "execute task", ctx.Err()),
		ModelName:          in.ModelName,
		RequesterPublicKey: in.RequesterPublicKey,
		Stats:              in.Stats,
	}
}
