package raftstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerProcessesSentTasks(t *testing.T) {
	w := NewWorker("test", 4)
	processed := make(chan Task, 4)
	w.Start(func(task Task) { processed <- task })
	defer w.Stop()

	require.NoError(t, w.Send("task-1"))

	select {
	case got := <-processed:
		require.Equal(t, "task-1", got)
	case <-time.After(time.Second):
		t.Fatal("task was never processed")
	}
}

func TestWorkerSendReturnsErrWorkerBusyWhenFull(t *testing.T) {
	w := NewWorker("test", 1)
	block := make(chan struct{})
	started := make(chan struct{})
	w.Start(func(task Task) {
		select {
		case <-started:
		default:
			close(started)
		}
		<-block
	})
	defer func() {
		close(block)
		w.Stop()
	}()

	require.NoError(t, w.Send("in-flight"))
	<-started // the handler goroutine has pulled this task and is blocked on it

	require.NoError(t, w.Send("fills-queue"))
	err := w.Send("overflow")
	require.ErrorIs(t, err, ErrWorkerBusy)
}

func TestWorkerStopWithoutStart(t *testing.T) {
	w := NewWorker("idle", 1)
	w.Stop()
}
