package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	assert.Equal(t, Epoch, NewManualClock(time.Time{}).Now())

	start := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, start, NewManualClock(start).Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(time.Time{})

	clock.Advance(2 * time.Second)
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())

	clock.AdvanceSeconds(0.5)
	assert.Equal(t, Epoch.Add(2500*time.Millisecond), clock.Now())

	// Now does not move the clock
	assert.Equal(t, clock.Now(), clock.Now())
}

func TestManualClock_NeverRunsBackwards(t *testing.T) {
	clock := NewManualClock(time.Time{})
	clock.Advance(-time.Hour)
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(time.Time{})
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(goroutines*time.Millisecond), clock.Now())
}
