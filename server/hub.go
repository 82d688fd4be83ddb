package server

import (
	"sync"
	"time"

	"github.com/cameroncuttingedge/pixel_canvas/board"
	"github.com/cameroncuttingedge/pixel_canvas/events"
	"github.com/cameroncuttingedge/pixel_canvas/protocol"
	"github.com/cameroncuttingedge/pixel_canvas/registry"
)

// Hub is the single serialization point of the server. Joining, applying a
// change, and fanning it out all happen under one mutex, so every session
// observes the same total order of tile changes, and a login snapshot is
// never taken mid-write.
type Hub struct {
	mu       sync.Mutex
	board    *board.Board
	registry *registry.Registry
	bus      *events.Bus
}

func NewHub(b *board.Board, r *registry.Registry, bus *events.Bus) *Hub {
	return &Hub{board: b, registry: r, bus: bus}
}

// Join registers the session and queues LOGIN_SUCCESS followed by a
// consistent board snapshot onto its outbound, atomically with the
// registration. No TILE_CHANGED can land between those two frames or carry
// a change missing from the snapshot. Returns false if the username is
// taken.
func (h *Hub) Join(s *registry.Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registry.Register(s) {
		return false
	}
	s.Send(protocol.NewLoginSuccess(s.Username))
	s.Send(protocol.NewBoard(h.board.Snapshot()))
	return true
}

// Leave removes the session from fan-out. Idempotent.
func (h *Hub) Leave(s *registry.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry.Unregister(s.Username)
}

// Apply accepts one tile change on behalf of username: the owner is forced
// to the authenticated name, the timestamp is assigned here (whatever the
// client sent is discarded), the board is overwritten, and the change is
// broadcast to every session including the originator. Returns the tile as
// accepted.
func (h *Hub) Apply(t board.Tile, username string) board.Tile {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.Owner = username
	t.Time = time.Now().UnixMilli()
	h.board.Set(t)
	h.registry.Broadcast(protocol.NewTileChanged(t))
	h.bus.Publish(events.TileEvent{Tile: t})
	return t
}

// InRange reports whether (row, col) addresses a cell on the canvas.
func (h *Hub) InRange(row, col int) bool {
	return h.board.InRange(row, col)
}

// Snapshot returns the current board, consistent with the broadcast order.
func (h *Hub) Snapshot() board.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.board.Snapshot()
}
