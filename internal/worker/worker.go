package worker

// Worker runs jobs handed to it by the pool until told to stop.
type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for job := range w.jobChannel {
			if job.Type == Stop {
				return
			}
			debugLog("[worker] run job for user %s", job.Username)
			job.execute()
			w.pool.Release(w.jobChannel)
		}
	}()
}
