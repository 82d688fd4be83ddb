package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cameroncuttingedge/pixel_canvas/board"
	"github.com/cameroncuttingedge/pixel_canvas/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// State is the client session's position in the protocol.
type State int

const (
	StateConnecting State = iota
	StateAwaitLoginAck
	StateReady
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitLoginAck:
		return "AWAIT_LOGIN_ACK"
	case StateReady:
		return "READY"
	case StateFinished:
		return "FINISHED"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotReady is returned by SubmitChange before the handshake completes
	// or after the session ends.
	ErrNotReady = errors.New("session is not ready")
	// ErrLoginRejected is returned when the server refuses the login.
	ErrLoginRejected = errors.New("login rejected")
	// ErrServerClosed is returned when the server sends a terminal ERROR.
	ErrServerClosed = errors.New("server error")
)

// Config is what a client needs to join a canvas.
type Config struct {
	Host     string
	Port     int
	Username string
}

// URL is the websocket endpoint for this config.
func (c Config) URL() string {
	return fmt.Sprintf("ws://%s:%d/ws", c.Host, c.Port)
}

// Observer is called for every tile change, on the session's receive loop.
// Observers must return promptly.
type Observer func(board.Tile)

// Client is the client half of the protocol: it performs the handshake,
// mirrors the board, and dispatches tile changes to observers. Views and
// bots consume it; none of them touch the wire.
type Client struct {
	conn     *websocket.Conn
	username string

	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	mirror    *board.Board
	observers []Observer
	err       error
	requested bool

	ready chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

// Dial connects to the configured server and starts the session: the LOGIN
// is sent immediately and a background receive loop completes the handshake.
// Use WaitForInitialBoard to block until the session is ready.
func Dial(cfg Config) (*Client, error) {
	return DialURL(cfg.URL(), cfg.Username)
}

// DialURL is Dial for an explicit websocket URL.
func DialURL(url, username string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		username: username,
		state:    StateAwaitLoginAck,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := c.write(protocol.NewLogin(username)); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("send login: %w", err)
	}

	go c.receiveLoop()
	return c, nil
}

func (c *Client) Username() string {
	return c.username
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error, if the session ended with one.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Board returns the local mirror. Nil until the handshake completes.
func (c *Client) Board() *board.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror
}

// AddObserver registers a callback invoked for every TILE_CHANGED after the
// mirror is updated.
func (c *Client) AddObserver(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// WaitForInitialBoard blocks until the handshake completes, the session
// fails, or the context ends. On success it returns the mirror holding the
// exact board the server sent.
func (c *Client) WaitForInitialBoard(ctx context.Context) (*board.Board, error) {
	select {
	case <-c.ready:
		return c.Board(), nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotReady
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitChange asks the server to paint (row, col) with color. Fire and
// forget: the accepted value comes back through the broadcast, never as a
// direct reply. The timestamp and owner are assigned server-side.
func (c *Client) SubmitChange(row, col int, color board.Color) error {
	if c.State() != StateReady {
		return ErrNotReady
	}
	t := board.Tile{Row: row, Col: col, Color: color, Owner: c.username}
	if err := c.write(protocol.NewChangeTile(t)); err != nil {
		return fmt.Errorf("submit change: %w", err)
	}
	return nil
}

// Disconnect requests graceful teardown. Idempotent and safe to call from
// any state, including concurrently with the session's own failure path.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.requested = true
	if c.state != StateError {
		c.state = StateFinished
	}
	c.mu.Unlock()
	c.closeConn()
}

// Done is closed when the receive loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) write(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(m)
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			log.Debug().Err(err).Str("username", c.username).Msg("Error closing connection")
		}
	})
}

// fail records the terminal error and marks the session ERROR, unless the
// caller had already requested disconnect.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.requested {
		c.state = StateFinished
	} else {
		c.state = StateError
		c.err = err
		log.Error().Err(err).Str("username", c.username).Msg("Session failed")
	}
	c.mu.Unlock()
	c.closeConn()
}

func (c *Client) receiveLoop() {
	defer close(c.done)

	if err := c.handshake(); err != nil {
		c.fail(err)
		return
	}

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			requested := c.requested
			if requested {
				c.state = StateFinished
			}
			c.mu.Unlock()
			if requested {
				log.Info().Str("username", c.username).Msg("Session finished")
			} else {
				c.fail(fmt.Errorf("connection lost: %w", err))
			}
			return
		}

		switch msg.Type {
		case protocol.TypeTileChanged:
			tile, err := msg.Tile()
			if err != nil {
				c.fail(err)
				return
			}
			c.mu.Lock()
			c.mirror.Set(tile)
			observers := make([]Observer, len(c.observers))
			copy(observers, c.observers)
			c.mu.Unlock()
			for _, fn := range observers {
				fn(tile)
			}
		case protocol.TypeError:
			reason, rerr := msg.Reason()
			if rerr != nil {
				reason = "unreadable server error"
			}
			c.fail(fmt.Errorf("%w: %s", ErrServerClosed, reason))
			return
		default:
			log.Debug().Str("type", string(msg.Type)).Msg("Ignoring unexpected message type")
		}
	}
}

// handshake runs AWAIT_LOGIN_ACK: LOGIN_SUCCESS echoing our username must
// arrive first, immediately followed by the BOARD snapshot.
func (c *Client) handshake() error {
	var msg protocol.Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read login ack: %w", err)
	}
	switch msg.Type {
	case protocol.TypeError:
		reason, err := msg.Reason()
		if err != nil {
			reason = "unreadable rejection"
		}
		return fmt.Errorf("%w: %s", ErrLoginRejected, reason)
	case protocol.TypeLoginSuccess:
		echoed, err := msg.Username()
		if err != nil {
			return err
		}
		if echoed != c.username {
			return fmt.Errorf("login ack for %q, expected %q", echoed, c.username)
		}
	default:
		return fmt.Errorf("expected LOGIN_SUCCESS, got %s", msg.Type)
	}

	if err := c.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read initial board: %w", err)
	}
	if msg.Type != protocol.TypeBoard {
		return fmt.Errorf("expected BOARD after LOGIN_SUCCESS, got %s", msg.Type)
	}
	snap, err := msg.BoardSnapshot()
	if err != nil {
		return err
	}
	if snap.Dim < 0 || len(snap.Tiles) != snap.Dim {
		return fmt.Errorf("invalid board snapshot: dim %d with %d rows", snap.Dim, len(snap.Tiles))
	}

	c.mu.Lock()
	c.mirror = board.FromSnapshot(snap)
	c.state = StateReady
	c.mu.Unlock()
	close(c.ready)
	log.Info().Str("username", c.username).Int("dim", snap.Dim).Msg("Session ready")
	return nil
}
