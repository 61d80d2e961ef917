package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentQueue_OfferTake(t *testing.T) {
	q := newIntentQueue()

	displaced, ok := q.Offer(newSeekIntent(1, 2.5, false))
	require.True(t, ok)
	assert.Nil(t, displaced)
	assert.Equal(t, 1, q.Len())

	it, ok := q.TryTake()
	require.True(t, ok)
	assert.Equal(t, int64(1), it.Seq)
	assert.Equal(t, 2.5, it.Clock)
	assert.Equal(t, 0, q.Len())

	_, ok = q.TryTake()
	assert.False(t, ok, "take from empty queue should return false")
}

func TestIntentQueue_LatestWins(t *testing.T) {
	q := newIntentQueue()

	_, _ = q.Offer(newSeekIntent(1, 1, false))
	displaced, _ := q.Offer(newSeekIntent(2, 2, false))
	require.NotNil(t, displaced)
	assert.Equal(t, int64(1), displaced.Seq)

	displaced, _ = q.Offer(newSeekIntent(3, 3, true))
	require.NotNil(t, displaced)
	assert.Equal(t, int64(2), displaced.Seq)

	it, ok := q.TryTake()
	require.True(t, ok)
	assert.Equal(t, int64(3), it.Seq)
	assert.True(t, it.UseStepper)
	assert.Equal(t, 0, q.Len())
}

func TestIntentQueue_WaitSignals(t *testing.T) {
	q := newIntentQueue()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Offer(newSeekIntent(1, 0, false))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock")
	}
}

func TestIntentQueue_CloseReturnsOrphan(t *testing.T) {
	q := newIntentQueue()
	q.Offer(newSeekIntent(7, 1, false))

	orphan := q.Close()
	require.NotNil(t, orphan)
	assert.Equal(t, int64(7), orphan.Seq)
	assert.True(t, q.Closed())
	assert.Nil(t, q.Close(), "second close is a no-op")

	_, ok := q.Offer(newSeekIntent(8, 1, false))
	assert.False(t, ok, "offer after close should return false")

	select {
	case <-q.Wait():
	default:
		t.Fatal("wait channel should be closed")
	}
}

func TestIntentQueue_ConcurrentOffersKeepOnePending(t *testing.T) {
	q := newIntentQueue()

	var wg sync.WaitGroup
	var mu sync.Mutex
	displacedCount := 0
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			if d, _ := q.Offer(newSeekIntent(seq, 0, false)); d != nil {
				mu.Lock()
				displacedCount++
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 99, displacedCount)
}
