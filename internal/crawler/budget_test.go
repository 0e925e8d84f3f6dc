package crawler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBudgetLimits(t *testing.T) {
	t.Parallel()

	b := NewBudget(2, 1)
	require.True(t, b.TryTakePage())
	require.True(t, b.TryTakePage())
	require.False(t, b.TryTakePage())
	require.True(t, b.TryTakeProduct())
	require.False(t, b.TryTakeProduct())
	require.Equal(t, 2, b.Pages())
	require.Equal(t, 1, b.Products())
}

func TestBudgetZeroIsUnlimited(t *testing.T) {
	t.Parallel()

	b := NewBudget(0, 0)
	for i := 0; i < 1000; i++ {
		require.True(t, b.TryTakePage())
		require.True(t, b.TryTakeProduct())
	}
	require.Equal(t, 1000, b.Pages())
}

func TestBudgetConcurrentTakesNeverExceedLimit(t *testing.T) {
	t.Parallel()

	b := NewBudget(0, 50)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if b.TryTakeProduct() {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, granted)
	require.Equal(t, 50, b.Products())
}
