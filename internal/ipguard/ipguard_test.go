package ipguard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnlimitedAlwaysAllows(t *testing.T) {
	g := New(0)
	for i := 0; i < 100; i++ {
		require.True(t, g.Allow("1.2.3.4"))
	}
}

func TestPerIPCap(t *testing.T) {
	g := New(2)

	require.True(t, g.Allow("10.0.0.1"))
	require.True(t, g.Allow("10.0.0.1"))
	require.False(t, g.Allow("10.0.0.1"), "third connection from same IP must be refused")

	g.Release("10.0.0.1")
	require.True(t, g.Allow("10.0.0.1"), "after a release, a new connection is admitted")
}

func TestPerIPCapIsPerAddress(t *testing.T) {
	g := New(1)
	require.True(t, g.Allow("10.0.0.1"))
	require.True(t, g.Allow("10.0.0.2"), "a different IP has its own counter")
}

func TestReleaseToZeroRemovesEntry(t *testing.T) {
	g := New(1)
	require.True(t, g.Allow("10.0.0.1"))
	g.Release("10.0.0.1")
	require.EqualValues(t, 0, g.Active("10.0.0.1"))
	_, ok := g.count.Load("10.0.0.1")
	require.False(t, ok, "entry must be removed once its count reaches zero")
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	const limit = 5
	const attempts = 200
	g := New(limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admittedCount := 0

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if g.Allow("198.51.100.7") {
				mu.Lock()
				admittedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, admittedCount, limit)
	require.EqualValues(t, admittedCount, g.Active("198.51.100.7"))
}
