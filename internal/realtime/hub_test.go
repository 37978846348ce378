package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    [][]byte
	pings   int
	closed  bool
	sendErr error
	panics  bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(p []byte) error {
	if c.panics {
		panic("write on broken socket")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, p)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages(t *testing.T) []Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.sent))
	for _, p := range c.sent {
		var m Message
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestHub_SendToUserReachesAllOfThatUsersConnectionsOnly(t *testing.T) {
	h := NewHub(nil)
	a1, a2, b := newFakeConn("a1"), newFakeConn("a2"), newFakeConn("b")
	h.Register("alice", a1)
	h.Register("alice", a2)
	h.Register("bob", b)

	h.SendToUser("alice", Message{Type: "CALL_RINGING", Data: map[string]string{"callControlId": "cc"}})

	assert.Len(t, a1.messages(t), 1)
	assert.Len(t, a2.messages(t), 1)
	assert.Empty(t, b.messages(t))
	assert.Equal(t, "CALL_RINGING", a1.messages(t)[0].Type)
}

func TestHub_SendToUnknownUserIsNoop(t *testing.T) {
	h := NewHub(nil)
	c := newFakeConn("c")
	h.Register("alice", c)

	h.SendToUser("nobody", Message{Type: "X"})
	assert.Empty(t, c.messages(t))
}

func TestHub_UnregisterDropsEmptyUserKey(t *testing.T) {
	h := NewHub(nil)
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	h.Register("alice", c1)
	h.Register("alice", c2)

	h.Unregister(c1)
	assert.Equal(t, 1, h.ConnectionCount("alice"))
	assert.Equal(t, 1, h.UserCount())

	h.Unregister(c2)
	assert.Equal(t, 0, h.ConnectionCount("alice"))
	assert.Equal(t, 0, h.UserCount())

	h.Unregister(c2)
}

func TestHub_BroadcastVariants(t *testing.T) {
	h := NewHub(nil)
	a, b, c := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	h.Register("alice", a)
	h.Register("bob", b)
	h.Register("carol", c)

	h.Broadcast(Message{Type: "ALL"})
	h.BroadcastExceptUser("bob", Message{Type: "NOT_BOB"})

	assert.Len(t, a.messages(t), 2)
	assert.Len(t, b.messages(t), 1)
	assert.Len(t, c.messages(t), 2)
	assert.Equal(t, "ALL", b.messages(t)[0].Type)
}

func TestHub_FailingConnectionDoesNotAbortDelivery(t *testing.T) {
	h := NewHub(nil)
	bad := newFakeConn("bad")
	bad.sendErr = errors.New("broken pipe")
	panicky := newFakeConn("panicky")
	panicky.panics = true
	good := newFakeConn("good")
	h.Register("alice", bad)
	h.Register("alice", panicky)
	h.Register("alice", good)

	require.NotPanics(t, func() { h.SendToUser("alice", Message{Type: "X"}) })
	require.NotPanics(t, func() { h.Broadcast(Message{Type: "Y"}) })
	assert.Len(t, good.messages(t), 2)
}

func TestHub_TwoStrikeLiveness(t *testing.T) {
	h := NewHub(nil)
	c := newFakeConn("c")
	h.Register("alice", c)

	// First cycle: marked not-alive and probed, still registered.
	h.Sweep()
	assert.Equal(t, 1, c.pings)
	assert.False(t, c.isClosed())
	h.SendToUser("alice", Message{Type: "AFTER_ONE_MISS"})
	assert.Len(t, c.messages(t), 1)

	// Second cycle without a response: closed and removed.
	h.Sweep()
	assert.True(t, c.isClosed())
	assert.Equal(t, 0, h.ConnectionCount("alice"))
	h.SendToUser("alice", Message{Type: "AFTER_TWO_MISSES"})
	assert.Len(t, c.messages(t), 1)
}

func TestHub_ResponsiveConnectionSurvivesSweeps(t *testing.T) {
	h := NewHub(nil)
	c := newFakeConn("c")
	h.Register("alice", c)

	for i := 0; i < 5; i++ {
		h.Sweep()
		h.MarkAlive("c")
	}
	assert.False(t, c.isClosed())
	assert.Equal(t, 1, h.ConnectionCount("alice"))
	assert.Equal(t, 5, c.pings)
}

func TestHub_ConcurrentRegisterSendUnregister(t *testing.T) {
	h := NewHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		c := newFakeConn(string(rune('a' + i)))
		go func() {
			defer wg.Done()
			h.Register("alice", c)
			h.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			h.SendToUser("alice", Message{Type: "X"})
			h.Sweep()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.UserCount())
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub(nil)
	a, b := newFakeConn("a"), newFakeConn("b")
	h.Register("alice", a)
	h.Register("bob", b)

	h.CloseAll()
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, h.UserCount())
}
