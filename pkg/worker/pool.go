package worker

import (
	"errors"
	"sync"
)

// WorkerPool owns a set of workers and the wait group tracking their
// goroutines. Workers are pushed before Start and woken as a group when
// new work becomes available.
type WorkerPool struct {
	workers []Worker
	Wg      sync.WaitGroup
	started bool
}

func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

func (pool *WorkerPool) PushWorker(workers ...Worker) {
	pool.workers = append(pool.workers, workers...)
}

// Start spawns a goroutine for each worker in the pool. Start does not
// block; callers may wait on the pools WaitGroup if required.
func (pool *WorkerPool) Start() error {
	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.Wg.Add(1)
		go func(wg *sync.WaitGroup, w Worker) {
			defer wg.Done()
			w.Start()
		}(&pool.Wg, worker)
	}

	return nil
}

// WakeupWorkers performs a non-blocking send on each workers wakeup
// channel. Workers that are already awake will observe the buffered signal
// once their current pass completes.
func (pool *WorkerPool) WakeupWorkers() {
	for _, worker := range pool.workers {
		select {
		case worker.WakeupChan() <- 1:
		default:
		}
	}
}

// Close closes every worker and waits for their goroutines to finish.
func (pool *WorkerPool) Close() {
	for _, worker := range pool.workers {
		worker.Close()
	}

	pool.Wg.Wait()
}
