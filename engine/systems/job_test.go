package systems

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemRejectsBadConfig(t *testing.T) {
	_, err := NewJobSystem(0, 4)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(2, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(3, 8)
	require.NoError(t, err)

	var completed, failed atomic.Int32
	var failure error
	var mu sync.Mutex
	boom := errors.New("boom")

	for i := 0; i < 10; i++ {
		require.NoError(t, js.Submit(JobTask{
			Run:        func() error { return nil },
			OnComplete: func() { completed.Add(1) },
		}))
	}
	require.NoError(t, js.Submit(JobTask{
		ID:  uuid.New(),
		Run: func() error { return boom },
		OnFailure: func(err error) {
			mu.Lock()
			failure = err
			mu.Unlock()
			failed.Add(1)
		},
		OnComplete: func() { t.Error("failed job completed") },
	}))

	js.Wait()
	assert.Equal(t, int32(10), completed.Load())
	assert.Equal(t, int32(1), failed.Load())
	mu.Lock()
	assert.ErrorIs(t, failure, boom)
	mu.Unlock()
	require.NoError(t, js.Shutdown())
}

func TestJobSystemEnqueue(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		js.Enqueue(func() { ran.Add(1) })
	}
	js.Wait()
	assert.Equal(t, int32(50), ran.Load())

	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	// After shutdown the task runs on the caller.
	js.Enqueue(func() { ran.Add(1) })
	assert.Equal(t, int32(51), ran.Load())
	assert.ErrorIs(t, js.Submit(JobTask{Run: func() error { return nil }}), ErrJobSystemClosed)
}

func TestSubmitWithoutRunFails(t *testing.T) {
	js, err := NewJobSystem(1, 1)
	require.NoError(t, err)
	defer js.Shutdown()
	assert.Error(t, js.Submit(JobTask{}))
}
