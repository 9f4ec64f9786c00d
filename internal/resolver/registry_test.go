package resolver

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()

	h, err := r.Register("a", "")
	require.NoError(t, err)
	assert.Equal(t, "a", h.ID())
	assert.False(t, h.Cancelled())
	assert.Equal(t, 1, r.Active())

	_, err = r.Register("a", "")
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	assert.True(t, r.Cancel("a", ""))
	assert.True(t, h.Cancelled())
	assert.False(t, r.Cancel("b", ""))

	r.Unregister(h)
	assert.Equal(t, 0, r.Active())
	assert.False(t, r.Cancel("a", ""))

	r.Unregister(nil)
}

func TestRegistry_CancelRequiresOwner(t *testing.T) {
	r := NewRegistry()

	h, err := r.Register("a", "client-a")
	require.NoError(t, err)

	assert.False(t, r.Cancel("a", "client-b"))
	assert.False(t, r.Cancel("a", ""))
	assert.False(t, h.Cancelled())

	assert.True(t, r.Cancel("a", "client-a"))
	assert.True(t, h.Cancelled())
}

func TestRegistry_StaleUnregisterKeepsNewerHandle(t *testing.T) {
	r := NewRegistry()

	old, err := r.Register("a", "")
	require.NoError(t, err)
	r.Unregister(old)

	current, err := r.Register("a", "")
	require.NoError(t, err)

	r.Unregister(old)
	assert.Equal(t, 1, r.Active())
	assert.True(t, r.Cancel("a", ""))
	assert.True(t, current.Cancelled())
	assert.False(t, old.Cancelled())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			h, err := r.Register(id, "")
			if !assert.NoError(t, err) {
				return
			}
			r.Cancel(id, "")
			assert.True(t, h.Cancelled())
			r.Unregister(h)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Active())
}
