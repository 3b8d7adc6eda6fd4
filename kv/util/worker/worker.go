// Package worker runs tasks on a dedicated goroutine. Tasks that queue up while the handler is busy are handed over
// together, so a handler can fold a burst of requests into one unit of work.
package worker

import (
	"github.com/pingcap-incubator/tinycc/log"
	"go.uber.org/zap"
)

type TaskStop struct{}

type Task interface{}

type TaskHandler interface {
	// Handle receives the tasks in the order they were sent. The batch is never empty.
	Handle(batch []Task)
}

type Starter interface {
	Start()
}

type Worker struct {
	name string
	ch   chan Task
	done chan struct{}
}

func NewWorker(name string, capacity int) *Worker {
	return &Worker{
		name: name,
		ch:   make(chan Task, capacity),
		done: make(chan struct{}),
	}
}

func (w *Worker) Start(handler TaskHandler) {
	go func() {
		defer close(w.done)
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		log.Debug("worker started", zap.String("name", w.name))
		for {
			batch := w.next()
			n := 0
			for n < len(batch) {
				if _, ok := batch[n].(TaskStop); ok {
					break
				}
				n++
			}
			if n > 0 {
				handler.Handle(batch[:n])
			}
			if n < len(batch) {
				log.Debug("worker stopped", zap.String("name", w.name))
				return
			}
		}
	}()
}

// next blocks for one task and then takes whatever else is queued.
func (w *Worker) next() []Task {
	batch := []Task{<-w.ch}
	for {
		select {
		case t := <-w.ch:
			batch = append(batch, t)
		default:
			return batch
		}
	}
}

// Send queues t, blocking while the queue is full.
func (w *Worker) Send(t Task) {
	w.ch <- t
}

// TrySend queues t unless the queue is full.
func (w *Worker) TrySend(t Task) bool {
	select {
	case w.ch <- t:
		return true
	default:
		return false
	}
}

// Stop lets the worker finish the tasks queued so far and waits for it to exit. Tasks sent after Stop are dropped.
func (w *Worker) Stop() {
	w.ch <- TaskStop{}
	<-w.done
}
