package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/cameroncuttingedge/pixel_canvas/protocol"
	"github.com/cameroncuttingedge/pixel_canvas/registry"
	"github.com/cameroncuttingedge/pixel_canvas/utils"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow connections from any origin
}

// handleWS upgrades the connection and runs the protocol state machine for
// it: AWAIT_LOGIN, then LOGGED_IN until the stream ends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	h := &connHandler{
		hub:  s.hub,
		conn: conn,
		id:   utils.GenerateUUIDString(),
	}
	s.track(h)
	defer s.untrack(h)
	h.run()
}

// connHandler runs one connection. The reader goroutine (run) is the only
// writer path into the board for this client; a separate writer pump drains
// the session's outbound queue so a slow socket never stalls the hub.
type connHandler struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	mu      sync.Mutex
	session *registry.Session

	teardownOnce sync.Once
}

func (h *connHandler) setSession(s *registry.Session) {
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
}

func (h *connHandler) getSession() *registry.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// loggedIn reports whether the handler made it past the handshake.
func (h *connHandler) loggedIn() bool {
	return h.getSession() != nil
}

func (h *connHandler) run() {
	defer h.teardown()

	// AWAIT_LOGIN: the first frame must be LOGIN.
	var msg protocol.Message
	if err := h.conn.ReadJSON(&msg); err != nil {
		log.Debug().Err(err).Str("connID", h.id).Msg("Connection closed before login")
		return
	}
	if msg.Type != protocol.TypeLogin {
		h.rejectLogin(fmt.Sprintf("expected LOGIN as the first message, got %s", msg.Type))
		return
	}
	username, err := msg.Username()
	if err != nil || username == "" {
		h.rejectLogin("malformed LOGIN payload")
		return
	}

	sess := registry.NewSession(username)
	if !h.hub.Join(sess) {
		h.rejectLogin(fmt.Sprintf("username %s is already taken", username))
		return
	}
	h.setSession(sess)
	log.Info().Str("connID", h.id).Str("username", username).Str("remote", h.conn.RemoteAddr().String()).Msg("Client logged in")

	// LOGIN_SUCCESS and BOARD are already queued; the pump delivers them
	// before anything broadcast later.
	go h.writePump(sess)
	h.readLoop(sess)
}

// rejectLogin tells the client why the handshake failed and tears the
// connection down. The writer pump is not running yet, so write directly.
func (h *connHandler) rejectLogin(reason string) {
	log.Warn().Str("connID", h.id).Str("reason", reason).Msg("Login rejected")
	if err := h.conn.WriteJSON(protocol.NewError(reason)); err != nil {
		log.Debug().Err(err).Str("connID", h.id).Msg("Failed to send login rejection")
	}
}

// readLoop is the LOGGED_IN state: CHANGE_TILE is applied and broadcast,
// unknown types are ignored, and any read failure ends the session.
func (h *connHandler) readLoop(sess *registry.Session) {
	for {
		var msg protocol.Message
		if err := h.conn.ReadJSON(&msg); err != nil {
			log.Info().Err(err).Str("connID", h.id).Str("username", sess.Username).Msg("Client disconnected")
			return
		}
		if msg.Type != protocol.TypeChangeTile {
			log.Debug().Str("connID", h.id).Str("type", string(msg.Type)).Msg("Ignoring unexpected message type")
			continue
		}
		tile, err := msg.Tile()
		if err != nil {
			log.Warn().Err(err).Str("connID", h.id).Msg("Malformed CHANGE_TILE payload")
			sess.Send(protocol.NewError("malformed CHANGE_TILE payload"))
			return
		}
		if !h.hub.InRange(tile.Row, tile.Col) {
			log.Warn().Int("row", tile.Row).Int("col", tile.Col).Str("username", sess.Username).Msg("Dropping out-of-range tile change")
			continue
		}
		if !tile.Color.Valid() {
			log.Warn().Int("color", int(tile.Color)).Str("username", sess.Username).Msg("Dropping tile change with out-of-palette color")
			continue
		}
		h.hub.Apply(tile, sess.Username)
	}
}

// writePump is the single writer for this connection. It exits when the
// session is closed, flushing whatever is still queued (including a
// best-effort server-closed notice) before releasing the socket.
func (h *connHandler) writePump(sess *registry.Session) {
	for {
		select {
		case m := <-sess.Outbound():
			if err := h.conn.WriteJSON(m); err != nil {
				log.Debug().Err(err).Str("connID", h.id).Msg("Write failed, closing session")
				h.teardown()
				return
			}
		case <-sess.Done():
			for {
				select {
				case m := <-sess.Outbound():
					if err := h.conn.WriteJSON(m); err != nil {
						log.Debug().Err(err).Str("connID", h.id).Msg("Failed to flush outbound queue")
					}
				default:
					h.teardown()
					return
				}
			}
		}
	}
}

// teardown unregisters and releases the connection exactly once. Safe to
// reach from the read loop, the writer pump, and a server shutdown racing
// each other.
func (h *connHandler) teardown() {
	h.teardownOnce.Do(func() {
		if sess := h.getSession(); sess != nil {
			h.hub.Leave(sess)
			sess.Close()
		}
		if err := h.conn.Close(); err != nil {
			log.Debug().Err(err).Str("connID", h.id).Msg("Error closing connection")
		}
		log.Info().Str("connID", h.id).Msg("Connection released")
	})
}
