package events

import (
	"sync"

	"github.com/cameroncuttingedge/pixel_canvas/board"
)

// TileEvent is published for every tile change the server accepts.
type TileEvent struct {
	Tile board.Tile
}

// Bus carries tile events from the server to side listeners (statistics)
// without the server ever blocking on them.
type Bus struct {
	mu     sync.RWMutex
	closed bool
	ch     chan TileEvent
}

func NewBus() *Bus {
	return &Bus{ch: make(chan TileEvent, 100)}
}

// Publish queues the event. A full or closed bus drops it; listeners are
// advisory and must never stall the publisher.
func (b *Bus) Publish(e TileEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- e:
		return true
	default:
		return false
	}
}

// C is the receive side for listener goroutines.
func (b *Bus) C() <-chan TileEvent {
	return b.ch
}

// Close ends the stream; listeners draining C see it close. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
