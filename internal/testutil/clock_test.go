package testutil

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtBase(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, DefaultBase, clock.Current())
	assert.Equal(t, int64(0), clock.Ticks())
}

func TestDeterministicClock_NowAdvancesByStep(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, DefaultBase.Add(1*time.Second), clock.Now())
	assert.Equal(t, DefaultBase.Add(2*time.Second), clock.Now())
	assert.Equal(t, DefaultBase.Add(2*time.Second), clock.Current())
	assert.Equal(t, int64(2), clock.Ticks())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Now()
	clock.Now()

	clock.Reset()

	assert.Equal(t, DefaultBase, clock.Current())
	assert.Equal(t, DefaultBase.Add(time.Second), clock.Now())
}

func TestDeterministicClock_ConcurrentNowIsUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const n = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := clock.Now()
			mu.Lock()
			seen[now] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every Now() must return a distinct instant")
	assert.Equal(t, int64(n), clock.Ticks())
}

func TestNewAccountID(t *testing.T) {
	a := NewAccountID("test")
	b := NewAccountID("test")

	assert.True(t, strings.HasPrefix(a, "test-"))
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(NewAccountID(""), "acct-"))
}
