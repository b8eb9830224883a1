package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoster(t *testing.T) {
	r := NewRoster()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r.Put(Session{ID: "b", DisplayName: "Bob", JoinedAt: t0.Add(time.Second)})
	r.Put(Session{ID: "a", DisplayName: "Alice", JoinedAt: t0})
	r.Put(Session{ID: "c", DisplayName: "Carol", JoinedAt: t0})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})

	s, ok := r.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, "Alice", s.DisplayName)

	_, ok = r.Remove("a")
	assert.False(t, ok)

	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestRoster_PutReplaces(t *testing.T) {
	r := NewRoster()
	r.Put(Session{ID: "a", DisplayName: "Alice"})
	r.Put(Session{ID: "a", DisplayName: "Alicia"})

	s, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Alicia", s.DisplayName)
	assert.Equal(t, 1, r.Len())
}
