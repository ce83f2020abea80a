package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = time.Minute

func start(t *testing.T, s *Scheduler) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()
	return cancelFn, errCh
}

func waitForTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, interval)
	assert.Error(t, err)

	_, err = New(func(context.Context) error { return nil }, 0)
	assert.Error(t, err)
}

func TestRunsOnEveryTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)
	s, err := New(func(context.Context) error {
		calls <- struct{}{}
		return nil
	}, interval, WithClock(clock))
	require.NoError(t, err)

	cancel, done := start(t, s)
	waitForTicker(t, clock)

	for i := 0; i < 3; i++ {
		clock.Advance(interval)
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("tick %d did not run the job", i+1)
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int64(3), s.Runs())
	assert.Equal(t, int64(0), s.Failures())
}

func TestRunOnStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 1)
	s, err := New(func(context.Context) error {
		calls <- struct{}{}
		return nil
	}, interval, WithClock(clock), WithRunOnStart(true))
	require.NoError(t, err)

	cancel, done := start(t, s)
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestFailingRunDoesNotStopLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var n atomic.Int32
	s, err := New(func(context.Context) error {
		if n.Add(1) == 1 {
			return errors.New("store unreachable")
		}
		return nil
	}, interval, WithClock(clock))
	require.NoError(t, err)

	cancel, done := start(t, s)
	waitForTicker(t, clock)

	clock.Advance(interval)
	require.Eventually(t, func() bool { return s.Runs() == 1 }, 5*time.Second, 10*time.Millisecond)
	clock.Advance(interval)
	require.Eventually(t, func() bool { return s.Runs() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), s.Failures())
}

func TestPanickingRunIsRecovered(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := New(func(context.Context) error {
		panic("boom")
	}, interval, WithClock(clock), WithRunOnStart(true))
	require.NoError(t, err)

	cancel, done := start(t, s)
	require.Eventually(t, func() bool { return s.Failures() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunsOverlapAndShutdownWaits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	var active, peak atomic.Int32

	s, err := New(func(ctx context.Context) error {
		cur := active.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	}, interval, WithClock(clock))
	require.NoError(t, err)

	cancel, done := start(t, s)
	waitForTicker(t, clock)

	clock.Advance(interval)
	require.Eventually(t, func() bool { return active.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	clock.Advance(interval)
	require.Eventually(t, func() bool { return active.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while runs were in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, int64(2), s.Runs())
}

func TestTimeoutBoundsRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	result := make(chan error, 1)
	s, err := New(func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}, interval, WithClock(clock), WithRunOnStart(true), WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	cancel, done := start(t, s)
	defer func() {
		cancel()
		<-done
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled by its timeout")
	}
}

func TestRunTwiceFails(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := New(func(context.Context) error { return nil }, interval, WithClock(clock))
	require.NoError(t, err)

	cancel, done := start(t, s)
	waitForTicker(t, clock)

	assert.Error(t, s.Run(context.Background()))

	cancel()
	require.NoError(t, <-done)
}
