package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

type fakeConn struct {
	mu        sync.Mutex
	userID    string
	auctionID string
	frames    []string
	closed    bool
	sendErr   error
}

func newFakeConn(userID, auctionID string) *fakeConn {
	return &fakeConn{userID: userID, auctionID: auctionID}
}

func (c *fakeConn) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	b, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, string(b))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) UserID() string    { return c.userID }
func (c *fakeConn) AuctionID() string { return c.auctionID }

func (c *fakeConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestConnectionManager_RegisterAndBroadcast(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	alice, bob := newFakeConn("alice", "a1"), newFakeConn("bob", "a1")
	elsewhere := newFakeConn("alice", "a2")

	require.NoError(t, cm.RegisterConnection("alice", "a1", alice))
	require.NoError(t, cm.RegisterConnection("bob", "a1", bob))
	require.NoError(t, cm.RegisterConnection("alice", "a2", elsewhere))

	assert.Len(t, cm.GetConnectionsForAuction("a1"), 2)
	assert.Len(t, cm.GetConnectionsForUser("alice"), 2)

	require.NoError(t, cm.BroadcastToAuction("a1", map[string]string{"type": "ping"}))
	assert.Equal(t, []string{`{"type":"ping"}`}, alice.Frames())
	assert.Equal(t, []string{`{"type":"ping"}`}, bob.Frames())
	assert.Empty(t, elsewhere.Frames())

	require.NoError(t, cm.NotifyUser("alice", map[string]string{"type": "hello"}))
	assert.Len(t, alice.Frames(), 2)
	assert.Len(t, elsewhere.Frames(), 1)
	assert.Len(t, bob.Frames(), 1)
}

func TestConnectionManager_ReconnectReplacesConnection(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	old, fresh := newFakeConn("alice", "a1"), newFakeConn("alice", "a1")

	require.NoError(t, cm.RegisterConnection("alice", "a1", old))
	require.NoError(t, cm.RegisterConnection("alice", "a1", fresh))

	assert.True(t, old.Closed())
	assert.False(t, fresh.Closed())
	conns := cm.GetConnectionsForAuction("a1")
	require.Len(t, conns, 1)
	assert.Same(t, fresh, conns[0])
}

func TestConnectionManager_FailingConnectionDoesNotStopOthers(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	broken, healthy := newFakeConn("bob", "a1"), newFakeConn("carol", "a1")
	broken.sendErr = errors.New("broken pipe")

	require.NoError(t, cm.RegisterConnection("bob", "a1", broken))
	require.NoError(t, cm.RegisterConnection("carol", "a1", healthy))

	require.NoError(t, cm.BroadcastToAuction("a1", map[string]string{"type": "ping"}))
	assert.Len(t, healthy.Frames(), 1)
}

func TestConnectionManager_UnregisterAndClose(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	alice, bob := newFakeConn("alice", "a1"), newFakeConn("bob", "a1")
	require.NoError(t, cm.RegisterConnection("alice", "a1", alice))
	require.NoError(t, cm.RegisterConnection("bob", "a1", bob))

	require.NoError(t, cm.UnregisterConnection("alice", "a1"))
	assert.Len(t, cm.GetConnectionsForAuction("a1"), 1)
	assert.Empty(t, cm.GetConnectionsForUser("alice"))
	assert.False(t, alice.Closed(), "unregister leaves closing to the caller")

	require.NoError(t, cm.CloseAndUnregisterConnections("a1"))
	assert.True(t, bob.Closed())
	assert.Empty(t, cm.GetConnectionsForAuction("a1"))
	assert.Empty(t, cm.GetConnectionsForUser("bob"))
}

func TestWebSocketNotifier_Publish(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	conn := newFakeConn("alice", "a1")
	require.NoError(t, cm.RegisterConnection("alice", "a1", conn))
	n := NewWebSocketNotifier(cm)

	require.NoError(t, n.Publish(context.Background(), &domain.AuctionEvent{Type: domain.EventBidAccepted, AuctionID: "a1"}))
	assert.False(t, conn.Closed())

	require.NoError(t, n.Publish(context.Background(), &domain.AuctionEvent{Type: domain.EventAuctionEnded, AuctionID: "a1"}))
	assert.True(t, conn.Closed())
	require.Len(t, conn.Frames(), 2)
	assert.Contains(t, conn.Frames()[1], `"type":"auction_ended"`)
}
