package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetInvalidate(t *testing.T) {
	c := New[string](8, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", "one")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	c.Invalidate("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New[int](8, 20*time.Millisecond)
	c.Set("n", 42)
	time.Sleep(50 * time.Millisecond)
	_, ok := c.Get("n")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := New[int](8, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
