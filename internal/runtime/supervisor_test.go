package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects lifecycle events from fake workers in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// blockingWorker runs until its context ends and records when it is closed.
func blockingWorker(r *recorder, name string, started *sync.WaitGroup) (func(context.Context) error, func() error) {
	run := func(ctx context.Context) error {
		if started != nil {
			started.Done()
		}
		<-ctx.Done()
		return nil
	}
	closeF := func() error {
		r.add("close " + name)
		return nil
	}
	return run, closeF
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for workers")
	}
}

func TestSupervisor_RunsDaemonWorkers(t *testing.T) {
	r := &recorder{}
	var started sync.WaitGroup
	started.Add(3)

	s := NewSupervisor()
	for _, name := range []string{"netmon", "api", "announce"} {
		run, closeF := blockingWorker(r, name, &started)
		s.Add(name, run, closeF)
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	waitTimeout(t, &started, time.Second)

	cancel()
	require.NoError(t, s.Wait(ctx))

	// Dependents close before what they depend on.
	assert.Equal(t, []string{"close announce", "close api", "close netmon"}, r.Events())
}

func TestSupervisor_FirstFailureIsReturned(t *testing.T) {
	errBind := errors.New("address already in use")
	errLater := errors.New("later failure")

	s := NewSupervisor()
	s.Add("api", func(ctx context.Context) error { return errBind }, nil)
	s.Add("announce", func(ctx context.Context) error {
		<-ctx.Done()
		return errLater
	}, nil)

	require.NoError(t, s.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errBind)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after a worker failed")
	}
}

func TestSupervisor_WorkerFailureStopsOthers(t *testing.T) {
	r := &recorder{}
	var started sync.WaitGroup
	started.Add(1)

	stopped := make(chan struct{})
	s := NewSupervisor()
	s.Add("netmon", func(ctx context.Context) error {
		started.Done()
		<-ctx.Done()
		close(stopped)
		return nil
	}, func() error {
		r.add("close netmon")
		return nil
	})
	s.Add("api", func(ctx context.Context) error {
		started.Wait()
		return errors.New("listener closed")
	}, func() error {
		r.add("close api")
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	err := s.Wait(context.Background())
	require.Error(t, err)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("netmon worker was not cancelled")
	}
	assert.Equal(t, []string{"close api", "close netmon"}, r.Events())
}

func TestSupervisor_CleanExit(t *testing.T) {
	s := NewSupervisor()
	s.Add("oneshot", func(ctx context.Context) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	// A worker returning nil does not end the supervisor on its own.
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.NoError(t, s.Wait(ctx))
}

func TestSupervisor_CloseErrorsDoNotFailShutdown(t *testing.T) {
	r := &recorder{}
	s := NewSupervisor()
	s.Add("first", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, func() error {
		r.add("close first")
		return nil
	})
	s.Add("broken", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, func() error {
		r.add("close broken")
		return errors.New("close failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.NoError(t, s.Wait(ctx))
	assert.Equal(t, []string{"close broken", "close first"}, r.Events())
}

func TestSupervisor_ParentCancelReachesWorkers(t *testing.T) {
	seen := make(chan error, 1)
	s := NewSupervisor()
	s.Add("watcher", func(ctx context.Context) error {
		<-ctx.Done()
		seen <- ctx.Err()
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	require.NoError(t, s.Wait(ctx))

	select {
	case err := <-seen:
		assert.ErrorIs(t, err, context.Canceled)
	default:
		t.Fatal("worker did not observe cancellation before Wait returned")
	}
}

func TestSupervisor_NoWorkers(t *testing.T) {
	s := NewSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	assert.NoError(t, s.Wait(ctx))
}

func TestSupervisor_WorkersAddedAfterStartDoNotRun(t *testing.T) {
	s := NewSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	ran := make(chan struct{}, 1)
	s.Add("late", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}, nil)

	cancel()
	require.NoError(t, s.Wait(ctx))

	select {
	case <-ran:
		t.Fatal("worker added after Start was run")
	default:
	}
}
