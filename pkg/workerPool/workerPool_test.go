package workerpool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoom_RunsEveryJob(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 4})
	defer wp.Close()

	var ran int64
	room := wp.CreateRoom(100)
	for i := 0; i < 100; i++ {
		room.NewTask(func() error {
			atomic.AddInt64(&ran, 1)
			return nil
		})
	}
	require.NoError(t, room.Wait())
	require.EqualValues(t, 100, atomic.LoadInt64(&ran))
}

func TestRoom_CollectsErrors(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 2})
	defer wp.Close()

	boom := errors.New("boom")
	room := wp.CreateRoom(10)
	for i := 0; i < 10; i++ {
		fail := i%3 == 0
		room.NewTask(func() error {
			if fail {
				return boom
			}
			return nil
		})
	}
	err := room.Wait()
	require.ErrorIs(t, err, boom)
}

func TestRooms_DoNotBlockEachOther(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 2})
	defer wp.Close()

	a := wp.CreateRoom(5)
	b := wp.CreateRoom(5)
	for i := 0; i < 5; i++ {
		a.NewTask(func() error { return nil })
		b.NewTask(func() error { return errors.New("only room b fails") })
	}
	require.NoError(t, a.Wait())
	require.Error(t, b.Wait())
}

func TestRoom_ManyMoreJobsThanBuffer(t *testing.T) {
	// Jobs far in excess of the room buffer must not wedge the workers:
	// results are drained while jobs are still being submitted.
	wp := NewWorkerPool(Config{WorkerCount: 4})
	defer wp.Close()

	var ran int64
	room := wp.CreateRoom(1)
	for i := 0; i < 500; i++ {
		room.NewTask(func() error {
			atomic.AddInt64(&ran, 1)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- room.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Wait did not return; workers blocked on a full room buffer")
	}
	require.EqualValues(t, 500, atomic.LoadInt64(&ran))
}

func TestNewWorkerPool_Defaults(t *testing.T) {
	wp := NewWorkerPool(Config{})
	defer wp.Close()

	room := wp.CreateRoom(1)
	room.NewTask(func() error { return nil })
	require.NoError(t, room.Wait())
}
