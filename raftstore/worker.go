package raftstore

import (
	"fmt"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

// Task is the unit of work shipped to one of the store's named background
// workers (region, raftlog-gc, compact, split-check, consistency-check,
// pd), per spec.md §4.3/§5. Each worker interprets its own Task union.
type Task interface{}

// ErrWorkerBusy is returned when a worker's bounded queue is full; callers
// log it rather than block the store thread, matching spec.md §5's
// "overflow = logged error, not dropped silently" rule — the task is in
// fact dropped, but the drop is never silent.
var ErrWorkerBusy = errors.New("worker queue full")

// Worker runs handler serially against tasks pulled off a bounded channel,
// one goroutine per named worker, matching the teacher's worker.Worker.
type Worker struct {
	name string
	tasks chan Task
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewWorker(name string, queueSize int) *Worker {
	return &Worker{
		name:  name,
		tasks: make(chan Task, queueSize),
		stop:  make(chan struct{}),
	}
}

func (w *Worker) Start(handler func(Task)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case t := <-w.tasks:
				handler(t)
			case <-w.stop:
				return
			}
		}
	}()
}

// Send enqueues t without blocking, reporting ErrWorkerBusy on a full
// queue so the caller can log-and-drop per spec.md §5.
func (w *Worker) Send(t Task) error {
	select {
	case w.tasks <- t:
		return nil
	default:
		log.Warn(fmt.Sprintf("worker %s queue full, dropping task", w.name))
		return ErrWorkerBusy
	}
}

func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}
