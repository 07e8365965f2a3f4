package call

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()
	c := NewActiveCall(context.Background(), "session-1", TypeWebSocket, "alice", "bob")

	r.Add(c)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("session-1")
	require.True(t, ok)
	assert.Same(t, c, got)

	r.Remove(c)
	assert.Equal(t, 0, r.Len())
	_, ok = r.Get("session-1")
	assert.False(t, ok)
}

func TestRegistry_AddReplacesAndCancelsExisting(t *testing.T) {
	r := NewRegistry()
	first := NewActiveCall(context.Background(), "dup", TypeWebSocket, "", "")
	second := NewActiveCall(context.Background(), "dup", TypeWebSocket, "", "")

	r.Add(first)
	r.Add(second)

	select {
	case <-first.Done():
	default:
		t.Fatal("expected replaced call to be cancelled")
	}

	// Removing the stale handle must not drop the new one
	r.Remove(first)
	got, ok := r.Get("dup")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistry_Kill(t *testing.T) {
	r := NewRegistry()
	c := NewActiveCall(context.Background(), "k", TypeWebRTC, "", "")
	r.Add(c)

	require.NoError(t, r.Kill("k"))
	<-c.Done()

	assert.ErrorIs(t, r.Kill("missing"), ErrNotFound)
}

func TestActiveCall_ParentCancellationCascades(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	c := NewActiveCall(parent, "x", TypeWebSocket, "", "")

	cancel()
	<-c.Done()
	assert.ErrorIs(t, c.Context().Err(), context.Canceled)
}

func TestRegistry_ListOrdered(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		r.Add(NewActiveCall(context.Background(), fmt.Sprintf("call-%d", i), TypeWebSocket, "", ""))
	}

	infos := r.List()
	require.Len(t, infos, 3)
	for i := 1; i < len(infos); i++ {
		assert.False(t, infos[i].CreatedAt.Before(infos[i-1].CreatedAt))
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewActiveCall(context.Background(), fmt.Sprintf("c-%d", i), TypeWebSocket, "", "")
			r.Add(c)
			_ = r.List()
			r.Remove(c)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
