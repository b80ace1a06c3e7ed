package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker() *Breaker {
	return New(Settings{
		Name:                "test",
		FailureThreshold:    3,
		ResetTimeout:        50 * time.Millisecond,
		HalfOpenMaxAttempts: 2,
	})
}

func TestExecute_ClosedState_PassesThrough(t *testing.T) {
	b := newTestBreaker()
	result, wasOpen, err := Execute(b, func() (int, error) { return 42, nil })
	assert.NoError(t, err)
	assert.False(t, wasOpen)
	assert.Equal(t, 42, result)
	assert.Equal(t, Closed, b.State())
}

func TestExecute_ConsecutiveFailures_TripsOpen(t *testing.T) {
	b := newTestBreaker()
	failing := func() (int, error) { return 0, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, wasOpen, err := Execute(b, failing)
		assert.False(t, wasOpen)
		assert.Error(t, err)
	}
	assert.Equal(t, Open, b.State())
}

func TestExecute_Open_RefusesWithoutInvoking(t *testing.T) {
	b := newTestBreaker()
	failing := func() (int, error) { return 0, errors.New("boom") }
	for i := 0; i < 3; i++ {
		Execute(b, failing)
	}
	assert.Equal(t, Open, b.State())

	invoked := false
	result, wasOpen, err := Execute(b, func() (int, error) {
		invoked = true
		return 99, nil
	})
	assert.True(t, wasOpen)
	assert.NoError(t, err)
	assert.Equal(t, 0, result)
	assert.False(t, invoked, "fn must not be called while the breaker is open")
}

func TestExecute_AfterResetTimeout_AdmitsHalfOpenProbe(t *testing.T) {
	b := newTestBreaker()
	failing := func() (int, error) { return 0, errors.New("boom") }
	for i := 0; i < 3; i++ {
		Execute(b, failing)
	}
	assert.Equal(t, Open, b.State())

	time.Sleep(60 * time.Millisecond)

	invoked := false
	_, wasOpen, err := Execute(b, func() (int, error) {
		invoked = true
		return 1, nil
	})
	assert.False(t, wasOpen)
	assert.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, HalfOpen, b.State())
}

func TestExecute_HalfOpen_ConsecutiveSuccessesCloseBreaker(t *testing.T) {
	b := newTestBreaker()
	failing := func() (int, error) { return 0, errors.New("boom") }
	for i := 0; i < 3; i++ {
		Execute(b, failing)
	}
	time.Sleep(60 * time.Millisecond)

	succeeding := func() (int, error) { return 1, nil }
	_, _, err := Execute(b, succeeding)
	assert.NoError(t, err)
	assert.Equal(t, HalfOpen, b.State())

	_, _, err = Execute(b, succeeding)
	assert.NoError(t, err)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestExecute_HalfOpen_AnyFailureReopens(t *testing.T) {
	b := newTestBreaker()
	failing := func() (int, error) { return 0, errors.New("boom") }
	for i := 0; i < 3; i++ {
		Execute(b, failing)
	}
	time.Sleep(60 * time.Millisecond)

	_, wasOpen, err := Execute(b, failing)
	assert.False(t, wasOpen)
	assert.Error(t, err)
	assert.Equal(t, Open, b.State())
}

func TestExecute_HalfOpen_CapsConcurrentProbes(t *testing.T) {
	b := newTestBreaker()
	failing := func() (int, error) { return 0, errors.New("boom") }
	for i := 0; i < 3; i++ {
		Execute(b, failing)
	}
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, Open, b.State())

	release := make(chan struct{})
	var wg sync.WaitGroup
	admitted := make([]bool, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, wasOpen, _ := Execute(b, func() (int, error) {
				<-release
				return 1, nil
			})
			admitted[idx] = !wasOpen
		}(i)
	}

	// Give every goroutine a chance to reach admit() before any completes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	count := 0
	for _, ok := range admitted {
		if ok {
			count++
		}
	}
	assert.Equal(t, 2, count, "only HalfOpenMaxAttempts probes may be admitted concurrently")
}

func TestReset_ReturnsToClosedWithClearedCounters(t *testing.T) {
	b := newTestBreaker()
	failing := func() (int, error) { return 0, errors.New("boom") }
	Execute(b, failing)
	Execute(b, failing)
	assert.Equal(t, 2, b.FailureCount())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half_open", HalfOpen.String())
}
