package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, hub *Hub, source Snapshotter) *Server {
	t.Helper()

	cfg := DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.PingInterval = 50 * time.Millisecond
	cfg.WriteTimeout = time.Second

	srv := NewServer(cfg, hub, source, nil)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readBlocks(t *testing.T, conn *websocket.Conn) []Block {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	blocks, err := Decode(msg)
	require.NoError(t, err)
	return blocks
}

func waitConsumers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Len() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_SnapshotThenLive(t *testing.T) {
	hub := NewHub(4, nil, nil)
	srv := startServer(t, hub, SnapshotFunc(func() Batch {
		return batch(2, 1, 2)
	}))

	conn := dial(t, srv)

	blocks := readBlocks(t, conn)
	require.Len(t, blocks, 1)
	assert.Equal(t, "XBTUSD", blocks[0].Symbol)
	assert.Len(t, blocks[0].Trades, 2)

	waitConsumers(t, hub, 1)
	hub.Broadcast(batch(2, 2)) // covered by the snapshot
	hub.Broadcast(batch(3, 3))

	blocks = readBlocks(t, conn)
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Trades, 1)
	assert.Equal(t, int64(3), blocks[0].Trades[0].TradeID)
}

func TestServer_EmptySnapshot(t *testing.T) {
	hub := NewHub(4, nil, nil)
	srv := startServer(t, hub, SnapshotFunc(func() Batch { return Batch{} }))

	conn := dial(t, srv)
	waitConsumers(t, hub, 1)

	hub.Broadcast(batch(1, 1))

	blocks := readBlocks(t, conn)
	require.Len(t, blocks, 1)
	assert.Equal(t, int64(1), blocks[0].Trades[0].TradeID)
}

func TestServer_ConsumerDisconnect(t *testing.T) {
	hub := NewHub(4, nil, nil)
	srv := startServer(t, hub, SnapshotFunc(func() Batch { return Batch{} }))

	conn := dial(t, srv)
	waitConsumers(t, hub, 1)

	conn.Close()
	waitConsumers(t, hub, 0)
}

func TestServer_StopClosesConsumers(t *testing.T) {
	hub := NewHub(4, nil, nil)
	srv := startServer(t, hub, SnapshotFunc(func() Batch { return Batch{} }))

	conn := dial(t, srv)
	waitConsumers(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 0, hub.Len())
}

func TestServer_RejectsConsumersAfterStop(t *testing.T) {
	hub := NewHub(4, nil, nil)
	srv := NewServer(DefaultServerConfig(), hub, SnapshotFunc(func() Batch { return batch(1, 1) }), nil)

	// Serve through httptest so the handler stays reachable after Stop.
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 0, hub.Len())

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, srv.Stop(ctx2))
}

func TestServer_Pings(t *testing.T) {
	hub := NewHub(4, nil, nil)
	srv := startServer(t, hub, SnapshotFunc(func() Batch { return Batch{} }))

	conn := dial(t, srv)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestServer_PathNotFound(t *testing.T) {
	hub := NewHub(4, nil, nil)
	cfg := DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Path = "/feed"
	srv := NewServer(cfg, hub, SnapshotFunc(func() Batch { return Batch{} }), nil)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/other", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
	assert.True(t, strings.HasPrefix(srv.Addr(), "127.0.0.1:"))
}
