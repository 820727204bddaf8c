package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/errors"
)

func poolTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestWorkerPoolExecutesTasks(t *testing.T) {
	pool := NewWorkerPool(poolTestLogger(), 4, 16)
	defer pool.Shutdown(time.Second)

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int64(10), atomic.LoadInt64(&counter))
}

func TestWorkerPoolRejectsWhenQueueFull(t *testing.T) {
	pool := NewWorkerPool(poolTestLogger(), 1, 1)
	defer pool.Shutdown(time.Second)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-block
	}))
	<-started

	// Fill the one queue slot, then the next submit must be rejected
	require.NoError(t, pool.Submit(func() {}))
	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, errors.ErrQueueFull)

	close(block)
}

func TestWorkerPoolSurvivesPanics(t *testing.T) {
	pool := NewWorkerPool(poolTestLogger(), 1, 4)
	defer pool.Shutdown(time.Second)

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		panic("boom")
	}))
	require.NoError(t, pool.Submit(func() {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestWorkerPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(poolTestLogger(), 1, 1)
	pool.Shutdown(time.Second)

	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestWorkerPoolShutdownDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(poolTestLogger(), 1, 8)

	var counter int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func() {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&counter, 1)
		}))
	}

	pool.Shutdown(2 * time.Second)
	assert.Equal(t, int64(5), atomic.LoadInt64(&counter))
}
