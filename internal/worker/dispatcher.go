package worker

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to pooled workers, rotating between users so one
// busy user cannot starve the rest.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*userQueue
	ready     *list.List // usernames in round-robin order
	positions map[string]*list.Element
	quit      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(minWorkers, maxWorkers, idleTimeout),
		JobQueue:  make(chan Job, queueSize),
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
	}
	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit queues fn for username and waits until it has run. A full queue
// fails fast with ErrDispatcherBusy. When ctx ends before a worker picks the
// job up, the job is skipped; a job already running is waited for so fn never
// outlives the call.
func (d *Dispatcher) Submit(ctx context.Context, username string, fn func(ctx context.Context)) error {
	job := newJob(ctx, username, fn)
	select {
	case d.JobQueue <- job:
	default:
		return ErrDispatcherBusy
	}
	select {
	case <-job.done:
		if job.skipped() {
			return ErrJobCancelled
		}
		return nil
	case <-ctx.Done():
		if job.abandon() {
			return ctx.Err()
		}
		<-job.done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// CancelUser drops the user's queued jobs. Waiters are released without the job running.
func (d *Dispatcher) CancelUser(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[username]; ok {
		for _, job := range q.jobs {
			job.abandon()
			close(job.done)
		}
		delete(d.queues, username)
	}
	if elem, ok := d.positions[username]; ok {
		d.ready.Remove(elem)
		delete(d.positions, username)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Username]
	if q == nil {
		q = &userQueue{}
		d.queues[job.Username] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Username] = d.ready.PushBack(job.Username)
}

// dispatchOne takes the next job of the user at the front and moves that user to the back.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	username := elem.Value.(string)
	q := d.queues[username]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, username)
		delete(d.queues, username)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	worker := d.pool.acquire()
	debugLog("[dispatcher] assign job for user %s to worker-%d", username, worker.id)
	worker.ch <- job
	return true
}

// Close stops dispatching and retires idle workers. Running jobs finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}
