package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cameroncuttingedge/pixel_canvas/board"
	"github.com/cameroncuttingedge/pixel_canvas/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// scriptedServer hosts a websocket endpoint that hands each connection to
// script, standing in for the real server.
func scriptedServer(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error("upgrade failed:", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// happyHandshake reads the LOGIN and answers with LOGIN_SUCCESS and a board.
func happyHandshake(t *testing.T, conn *websocket.Conn, dim int) bool {
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Error("read login:", err)
		return false
	}
	username, err := msg.Username()
	if err != nil {
		t.Error("decode login:", err)
		return false
	}
	if err := conn.WriteJSON(protocol.NewLoginSuccess(username)); err != nil {
		t.Error("write ack:", err)
		return false
	}
	if err := conn.WriteJSON(protocol.NewBoard(board.New(dim).Snapshot())); err != nil {
		t.Error("write board:", err)
		return false
	}
	return true
}

func TestWaitForInitialBoardReturnsServerBoard(t *testing.T) {
	release := make(chan struct{})
	url := scriptedServer(t, func(conn *websocket.Conn) {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Error("read login:", err)
			return
		}
		if err := conn.WriteJSON(protocol.NewLoginSuccess("alice")); err != nil {
			t.Error("write ack:", err)
			return
		}
		// Hold the board back briefly: the client must stay blocked, not
		// error out, between the two handshake frames.
		time.Sleep(50 * time.Millisecond)
		b := board.New(4)
		b.Set(board.Tile{Row: 2, Col: 2, Color: board.Maroon, Owner: "carol", Time: 5})
		if err := conn.WriteJSON(protocol.NewBoard(b.Snapshot())); err != nil {
			t.Error("write board:", err)
			return
		}
		<-release
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()
	defer close(release)

	require.Equal(t, StateAwaitLoginAck, c.State())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mirror, err := c.WaitForInitialBoard(ctx)
	require.NoError(t, err)
	require.Equal(t, StateReady, c.State())
	assert.Equal(t, 4, mirror.Dim())
	assert.Equal(t, board.Maroon, mirror.Get(2, 2).Color)
	assert.Equal(t, "carol", mirror.Get(2, 2).Owner)
}

func TestWaitForInitialBoardHonorsContext(t *testing.T) {
	block := make(chan struct{})
	url := scriptedServer(t, func(conn *websocket.Conn) {
		// Never answer.
		<-block
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.WaitForInitialBoard(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMismatchedLoginEchoIsProtocolError(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Error("read login:", err)
			return
		}
		if err := conn.WriteJSON(protocol.NewLoginSuccess("eve")); err != nil {
			t.Error("write ack:", err)
		}
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.WaitForInitialBoard(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"eve"`)
	assert.Equal(t, StateError, c.State())
}

func TestInvalidBoardSnapshotIsProtocolError(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Error("read login:", err)
			return
		}
		if err := conn.WriteJSON(protocol.NewLoginSuccess("alice")); err != nil {
			t.Error("write ack:", err)
			return
		}
		// A snapshot that claims a negative dimension must not take the
		// session down with it.
		if err := conn.WriteJSON(protocol.Message{
			Type:    protocol.TypeBoard,
			Payload: json.RawMessage(`{"dim":-1,"tiles":[]}`),
		}); err != nil {
			t.Error("write board:", err)
		}
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.WaitForInitialBoard(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid board snapshot")
	assert.Equal(t, StateError, c.State())
}

func TestTruncatedBoardSnapshotIsProtocolError(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Error("read login:", err)
			return
		}
		if err := conn.WriteJSON(protocol.NewLoginSuccess("alice")); err != nil {
			t.Error("write ack:", err)
			return
		}
		// Claims dim 4 but carries no rows.
		if err := conn.WriteJSON(protocol.Message{
			Type:    protocol.TypeBoard,
			Payload: json.RawMessage(`{"dim":4,"tiles":[]}`),
		}); err != nil {
			t.Error("write board:", err)
		}
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.WaitForInitialBoard(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid board snapshot")
}

func TestLoginRejectionSurfacesReason(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Error("read login:", err)
			return
		}
		if err := conn.WriteJSON(protocol.NewError("username alice is already taken")); err != nil {
			t.Error("write rejection:", err)
		}
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.WaitForInitialBoard(ctx)
	require.ErrorIs(t, err, ErrLoginRejected)
	assert.Contains(t, err.Error(), "taken")
}

func TestTileChangedUpdatesMirrorBeforeObservers(t *testing.T) {
	tile := board.Tile{Row: 1, Col: 3, Color: board.Yellow, Owner: "bob", Time: 77}
	release := make(chan struct{})
	url := scriptedServer(t, func(conn *websocket.Conn) {
		if !happyHandshake(t, conn, 4) {
			return
		}
		if err := conn.WriteJSON(protocol.NewTileChanged(tile)); err != nil {
			t.Error("write tile:", err)
			return
		}
		<-release
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.WaitForInitialBoard(ctx)
	require.NoError(t, err)

	seen := make(chan board.Tile, 1)
	c.AddObserver(func(got board.Tile) {
		// The mirror is updated before observers run.
		assert.Equal(t, got, c.Board().Get(got.Row, got.Col))
		seen <- got
	})

	select {
	case got := <-seen:
		assert.Equal(t, tile, got)
	case <-time.After(5 * time.Second):
		t.Fatal("observer was never invoked")
	}
}

func TestServerErrorIsTerminal(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		if !happyHandshake(t, conn, 4) {
			return
		}
		if err := conn.WriteJSON(protocol.NewError("server closed")); err != nil {
			t.Error("write error:", err)
		}
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.WaitForInitialBoard(ctx)
	require.NoError(t, err)

	<-c.Done()
	assert.Equal(t, StateError, c.State())
	require.ErrorIs(t, c.Err(), ErrServerClosed)
	assert.Contains(t, c.Err().Error(), "server closed")
}

func TestSubmitChangeRequiresReady(t *testing.T) {
	block := make(chan struct{})
	url := scriptedServer(t, func(conn *websocket.Conn) {
		<-block
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)
	defer c.Disconnect()
	defer close(block)

	require.ErrorIs(t, c.SubmitChange(0, 0, board.Red), ErrNotReady)
}

func TestDisconnectIsIdempotentAndConcurrencySafe(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		if !happyHandshake(t, conn, 4) {
			return
		}
		// Linger until the client hangs up.
		var msg protocol.Message
		for conn.ReadJSON(&msg) == nil {
		}
	})

	c, err := DialURL(url, "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.WaitForInitialBoard(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect()
		}()
	}
	wg.Wait()
	c.Disconnect()

	<-c.Done()
	assert.Equal(t, StateFinished, c.State())
	assert.NoError(t, c.Err())
}

func TestDialFailureSurfacesConnectionError(t *testing.T) {
	_, err := DialURL("ws://127.0.0.1:1/ws", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
}
