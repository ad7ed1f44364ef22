// Package workerpool runs independent jobs on a fixed set of workers. Jobs
// are grouped into rooms; a room collects the errors of its own jobs without
// blocking other rooms sharing the pool.
package workerpool

import (
	"fmt"
	"runtime"
	"sync"
)

type WorkerPool struct {
	config    Config
	taskQueue chan task
	closeOnce sync.Once
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

type Room struct {
	errChan chan error
	done    chan struct{}
	wg      sync.WaitGroup
	wp      *WorkerPool

	firstErr error
	failed   int
}

type task struct {
	run  func() error
	room *Room
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		numberOfCPUs := runtime.NumCPU()
		config.WorkerCount = numberOfCPUs * 3
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan task, config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for t := range wp.taskQueue {
		t.room.errChan <- t.run()
		t.room.wg.Done()
	}
}

// CreateRoom prepares a result group. size is a buffer hint for the
// expected job count; rooms accept any number of jobs regardless.
func (wp *WorkerPool) CreateRoom(size int) *Room {
	if size < 1 {
		size = 1
	}
	ro := &Room{
		errChan: make(chan error, size),
		done:    make(chan struct{}),
		wp:      wp,
	}
	go ro.collect()
	return ro
}

// collect drains results as they arrive so workers never block on a full
// room buffer, no matter how many jobs the room receives.
func (ro *Room) collect() {
	for err := range ro.errChan {
		if err != nil {
			ro.failed++
			if ro.firstErr == nil {
				ro.firstErr = err
			}
		}
	}
	close(ro.done)
}

// NewTask queues a job, blocking for a free queue slot if needed.
func (ro *Room) NewTask(job func() error) {
	ro.wg.Add(1)
	ro.wp.taskQueue <- task{run: job, room: ro}
}

// Wait blocks until every job of the room finished and returns the first
// error any of them produced. Call it once, after the last NewTask.
func (ro *Room) Wait() error {
	ro.wg.Wait()
	close(ro.errChan)
	<-ro.done

	if ro.firstErr != nil {
		return fmt.Errorf("%d job(s) failed, first error: %w", ro.failed, ro.firstErr)
	}
	return nil
}

// Close stops the workers. Rooms must be drained before closing.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() { close(wp.taskQueue) })
}
