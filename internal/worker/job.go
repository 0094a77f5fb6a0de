package worker

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrDispatcherBusy is returned when the shared job queue is full.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrJobCancelled is returned when a queued job was dropped before running.
	ErrJobCancelled = errors.New("job cancelled")
)

type JobType int

const (
	Run JobType = iota
	Stop
)

const (
	jobQueued int32 = iota
	jobRunning
	jobAbandoned
)

// Job is one unit of provider work owned by a user.
type Job struct {
	Type     JobType
	Username string
	Ctx      context.Context
	Fn       func(ctx context.Context)
	done     chan struct{}
	state    *atomic.Int32
}

func newJob(ctx context.Context, username string, fn func(ctx context.Context)) Job {
	return Job{
		Type:     Run,
		Username: username,
		Ctx:      ctx,
		Fn:       fn,
		done:     make(chan struct{}),
		state:    new(atomic.Int32),
	}
}

// claim marks the job as running. It fails when the submitter already gave up.
func (j Job) claim() bool {
	return j.state.CompareAndSwap(jobQueued, jobRunning)
}

func (j Job) skipped() bool {
	return j.state.Load() == jobAbandoned
}

// abandon marks a still-queued job as not to be run.
func (j Job) abandon() bool {
	return j.state.CompareAndSwap(jobQueued, jobAbandoned)
}

func (j Job) execute() {
	defer close(j.done)
	if !j.claim() {
		return
	}
	ctx := j.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	j.Fn(ctx)
}
