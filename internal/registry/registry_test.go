package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRemove(t *testing.T) {
	r := New()

	require.Equal(t, 0, r.Len())
	require.False(t, r.Has(1))

	r.Add(1)
	r.Add(2)
	r.Add(2)

	require.Equal(t, 2, r.Len())
	require.True(t, r.Has(1))

	r.Remove(1)
	r.Remove(1)

	require.False(t, r.Has(1))
	require.Equal(t, 1, r.Len())
}

func TestIDsSorted(t *testing.T) {
	r := New()

	r.Add(30)
	r.Add(10)
	r.Add(20)

	require.Equal(t, []int{10, 20, 30}, r.IDs())
}

func TestReplaceDiscardsLocalBelief(t *testing.T) {
	r := New()

	r.Add(1)
	r.Add(2)

	r.Replace([]int{2, 3})

	require.False(t, r.Has(1))
	require.True(t, r.Has(2))
	require.True(t, r.Has(3))
	require.Equal(t, 2, r.Len())
}

func TestConcurrentMutation(t *testing.T) {
	r := New()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.Add(id)
			r.Remove(id)
		}(i)
	}

	wg.Wait()

	require.Equal(t, 0, r.Len())
}
