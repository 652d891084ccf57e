package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTaskSerializer_RunsInSubmissionOrder(t *testing.T) {
	s := NewTaskSerializer(zap.NewNop(), 16)
	defer s.Shutdown(context.Background())

	var mu sync.Mutex
	var order []int
	futures := make([]*Future[int], 0, 50)
	for i := 0; i < 50; i++ {
		i := i
		futures = append(futures, Submit(s, func() (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i * 2, nil
		}))
	}

	for i, f := range futures {
		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i*2, v)
	}
	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestTaskSerializer_NeverOverlaps(t *testing.T) {
	s := NewTaskSerializer(zap.NewNop(), 64)
	defer s.Shutdown(context.Background())

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Submit(s, func() (struct{}, error) {
				n := running.Add(1)
				if n > maxRunning.Load() {
					maxRunning.Store(n)
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			}).Wait(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestTaskSerializer_PanicBecomesError(t *testing.T) {
	s := NewTaskSerializer(zap.NewNop(), 4)
	defer s.Shutdown(context.Background())

	_, err := Submit(s, func() (int, error) { panic("kaboom") }).Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	v, err := Submit(s, func() (int, error) { return 7, nil }).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestTaskSerializer_ShutdownDrainsQueue(t *testing.T) {
	s := NewTaskSerializer(zap.NewNop(), 16)
	release := make(chan struct{})
	var ran atomic.Int32

	Submit(s, func() (struct{}, error) {
		<-release
		ran.Add(1)
		return struct{}{}, nil
	})
	queued := Submit(s, func() (struct{}, error) {
		ran.Add(1)
		return struct{}{}, nil
	})

	shutdown := make(chan error, 1)
	go func() { shutdown <- s.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.closed
	}, time.Second, time.Millisecond)
	_, err := Submit(s, func() (int, error) { return 0, nil }).Wait(context.Background())
	assert.True(t, errors.Is(err, ErrSerializerClosed))

	close(release)
	require.NoError(t, <-shutdown)
	_, err = queued.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(2), ran.Load())
}

func TestTaskSerializer_ShutdownRespectsContext(t *testing.T) {
	s := NewTaskSerializer(zap.NewNop(), 1)
	release := make(chan struct{})
	defer close(release)
	Submit(s, func() (struct{}, error) {
		<-release
		return struct{}{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	s := NewTaskSerializer(zap.NewNop(), 1)
	release := make(chan struct{})
	defer func() {
		close(release)
		s.Shutdown(context.Background())
	}()

	f := Submit(s, func() (int, error) {
		<-release
		return 1, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
