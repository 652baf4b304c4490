package dap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoop_RunsInOrder(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		}))
	}
	require.True(t, l.Call(func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 100)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestLoop_SurvivesPanics(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	l.Do(func() { panic("boom") })
	ran := false
	require.True(t, l.Call(func() { ran = true }))
	require.True(t, ran)
}

func TestLoop_CloseDrainsThenStops(t *testing.T) {
	l := NewLoop()
	ran := make(chan struct{})
	l.Do(func() { close(ran) })
	l.Close()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	select {
	case <-ran:
	default:
		t.Fatal("queued function did not run before stop")
	}
	require.False(t, l.Do(func() {}))
	require.False(t, l.Call(func() {}))
}
