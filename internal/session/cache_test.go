package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vianexus/agentmemory/pkg/types"
)

func cachedRecord(id string) *record {
	return &record{data: &types.SessionRecord{ID: id}}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2)

	evictedID, evicted := c.put("a", cachedRecord("a"))
	assert.Nil(t, evicted)
	_, evicted = c.put("b", cachedRecord("b"))
	assert.Nil(t, evicted)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.get("a")
	assert.True(t, ok)

	evictedID, evicted = c.put("c", cachedRecord("c"))
	assert.NotNil(t, evicted)
	assert.Equal(t, "b", evictedID)

	_, ok = c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())
}

func TestLRUCache_PutRefreshesExisting(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", cachedRecord("a"))

	fresh := cachedRecord("a")
	_, evicted := c.put("a", fresh)
	assert.Nil(t, evicted)
	assert.Equal(t, 1, c.len())

	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestLRUCache_PeekDoesNotChangeRecency(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", cachedRecord("a"))
	c.put("b", cachedRecord("b"))

	// Peeking "a" must not save it from eviction.
	_, ok := c.peek("a")
	assert.True(t, ok)

	evictedID, _ := c.put("c", cachedRecord("c"))
	assert.Equal(t, "a", evictedID)
}

func TestLRUCache_RemoveAndEach(t *testing.T) {
	c := newLRUCache(4)
	c.put("a", cachedRecord("a"))
	c.put("b", cachedRecord("b"))
	c.remove("a")
	c.remove("missing")

	var seen []string
	c.each(func(id string, _ *record) { seen = append(seen, id) })
	assert.Equal(t, []string{"b"}, seen)
	assert.Equal(t, 1, c.len())
}
