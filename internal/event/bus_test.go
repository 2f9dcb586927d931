package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered events behind a mutex; dispatch runs on the
// bus goroutine.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(c.snapshot()))
	return nil
}

func TestBus_DeliversInOrder(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var c collector
	b.Subscribe(c.add)

	b.Publish(SessionCreated, map[string]string{"sessionID": "s1"})
	b.Publish(MessageAppended, map[string]string{"sessionID": "s1"})
	b.Publish(SessionDeleted, map[string]string{"sessionID": "s1"})

	got := c.waitFor(t, 3)
	assert.Equal(t, SessionCreated, got[0].Type)
	assert.Equal(t, MessageAppended, got[1].Type)
	assert.Equal(t, SessionDeleted, got[2].Type)
}

func TestBus_TypeFilter(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var all, deletes collector
	b.Subscribe(all.add)
	b.Subscribe(deletes.add, SessionDeleted)

	b.Publish(SessionCreated, nil)
	b.Publish(SessionDeleted, nil)
	b.Publish(MessageAppended, nil)

	all.waitFor(t, 3)
	got := deletes.waitFor(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, SessionDeleted, got[0].Type)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var c collector
	unsubscribe := b.Subscribe(c.add)

	b.Publish(SessionCreated, nil)
	c.waitFor(t, 1)

	unsubscribe()
	b.Publish(SessionCreated, nil)

	// Give delivery a chance to happen if the unsubscribe were broken.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.snapshot(), 1)
}

func TestBus_PublishAfterCloseIsSafe(t *testing.T) {
	b := NewBus()

	var c collector
	b.Subscribe(c.add)
	b.Publish(SessionCreated, nil)
	c.waitFor(t, 1)

	b.Close()
	b.Publish(SessionDeleted, nil)
	b.Close()

	assert.Len(t, c.snapshot(), 1)
}

func TestBus_PayloadRoundTrip(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var c collector
	b.Subscribe(c.add, MessageAppended)

	b.Publish(MessageAppended, map[string]any{"sessionID": "s1", "sequence": 4})

	got := c.waitFor(t, 1)
	data, ok := got[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s1", data["sessionID"])
	assert.Equal(t, float64(4), data["sequence"])
}
