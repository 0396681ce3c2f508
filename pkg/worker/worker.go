package worker

import "github.com/offtube/offtube/pkg/logger"

var log = logger.Get("Worker")

type WorkerStatus int

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

// WorkerTask is the unit of work executed by a worker. The boolean return
// indicates whether any work was actually performed; a worker will keep
// calling its task until it reports false, at which point the worker sleeps
// until woken.
type WorkerTask func(Worker) (bool, error)

type Worker interface {
	Start()
	Status() WorkerStatus
	Label() string
	WakeupChan() chan int
	Close()
}

type taskWorker struct {
	label         string
	task          WorkerTask
	wakeupChan    chan int
	currentStatus WorkerStatus
}

func NewWorker(label string, task WorkerTask) *taskWorker {
	return &taskWorker{
		label:         label,
		task:          task,
		wakeupChan:    make(chan int, 1),
		currentStatus: Sleeping,
	}
}

// Start runs the workers main loop; it will not return until the workers
// wakeup channel is closed. Each wakeup drains all available work before
// the worker returns to sleep.
func (worker *taskWorker) Start() {
	log.Emit(logger.NEW, "Starting worker %s\n", worker.label)
	for {
		worker.currentStatus = Working
		for {
			didWork, err := worker.task(worker)
			if err != nil {
				log.Emit(logger.ERROR, "Worker %s task reported error: %v\n", worker.label, err)
				break
			}
			if !didWork {
				break
			}
		}

		if !worker.sleep() {
			worker.currentStatus = Finished
			log.Emit(logger.STOP, "Worker %s has stopped\n", worker.label)
			return
		}
	}
}

func (worker *taskWorker) Status() WorkerStatus { return worker.currentStatus }
func (worker *taskWorker) Label() string        { return worker.label }
func (worker *taskWorker) WakeupChan() chan int { return worker.wakeupChan }

// Close stops the worker by closing its wakeup channel. Work that is
// currently executing is not interrupted.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// sleep blocks until the wakeup channel is signalled; the return is false
// if the channel was closed, indicating the worker should quit.
func (worker *taskWorker) sleep() (isAlive bool) {
	worker.currentStatus = Sleeping
	_, isAlive = <-worker.wakeupChan
	return isAlive
}
