package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []BroadcastMessage
	failing  bool
	closed   bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	var msg BroadcastMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) received() []BroadcastMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BroadcastMessage(nil), c.messages...)
}

func startHub(t *testing.T, buffer int) *Hub {
	t.Helper()
	hub := NewHub(nil, "server-a", buffer)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_DeliversOnlyToOwner(t *testing.T) {
	hub := startHub(t, 8)
	alice, bob := &fakeConn{}, &fakeConn{}
	hub.add(alice, "alice")
	hub.add(bob, "bob")

	hub.Notify(session.Notification{Code: session.NotifyQRCode, SessionID: "S1", Owner: "alice", Message: "Scan the QR code"})
	hub.Notify(session.Notification{Code: session.NotifySessionUpdate, Message: "broadcast to all"})

	require.Eventually(t, func() bool { return len(alice.received()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(bob.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "qr-code", alice.received()[0].Code)
	assert.Equal(t, "broadcast to all", bob.received()[0].Message)
}

func TestHub_DropsWhenBufferIsFull(t *testing.T) {
	hub := NewHub(nil, "server-a", 1)

	for i := 0; i < 3; i++ {
		hub.Notify(session.Notification{Code: session.NotifyMessageSent})
	}

	assert.Equal(t, int64(2), hub.Dropped())
}

func TestHub_RemovesFailingConnections(t *testing.T) {
	hub := startHub(t, 8)
	broken := &fakeConn{failing: true}
	healthy := &fakeConn{}
	hub.add(broken, "alice")
	hub.add(healthy, "alice")

	hub.Notify(session.Notification{Code: session.NotifyMessageFailed, Owner: "alice"})
	require.Eventually(t, func() bool { return len(healthy.received()) == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		broken.mu.Lock()
		defer broken.mu.Unlock()
		return broken.closed
	}, time.Second, 5*time.Millisecond)
}
