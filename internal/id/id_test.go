package id

import (
	"errors"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustOrderID(t *testing.T) string {
	t.Helper()
	id, err := NewOrderID()
	require.NoError(t, err)
	return id
}

func TestNewOrderID_Monotonic(t *testing.T) {
	prev := mustOrderID(t)
	for i := 0; i < 1000; i++ {
		next := mustOrderID(t)
		require.Greater(t, next, prev, "ids must be strictly increasing")
		prev = next
	}
}

func TestNewOrderID_ParsesAsULID(t *testing.T) {
	_, err := ulid.Parse(mustOrderID(t))
	assert.NoError(t, err)
}

func TestNewOrderID_ConcurrentUnique(t *testing.T) {
	const n = 200
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := NewOrderID()
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestNewOrderID_EntropyFailure(t *testing.T) {
	mu.Lock()
	saved := mono
	mono = iotest.ErrReader(errors.New("entropy exhausted"))
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		mono = saved
		mu.Unlock()
	})

	id, err := NewOrderID()
	assert.Empty(t, id)
	assert.ErrorContains(t, err, "entropy exhausted")
}

func TestNewAccountID(t *testing.T) {
	a, b := NewAccountID(), NewAccountID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
