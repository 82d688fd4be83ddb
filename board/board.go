package board

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Color is an index into the fixed 16-color palette.
type Color int

const (
	White Color = iota
	Silver
	Gray
	Black
	Red
	Maroon
	Yellow
	Olive
	Lime
	Green
	Aqua
	Teal
	Blue
	Navy
	Fuchsia
	Purple
)

// NumColors is the size of the palette.
const NumColors = 16

var colorNames = [NumColors]string{
	"white", "silver", "gray", "black",
	"red", "maroon", "yellow", "olive",
	"lime", "green", "aqua", "teal",
	"blue", "navy", "fuchsia", "purple",
}

// Valid reports whether c is part of the palette.
func (c Color) Valid() bool {
	return c >= 0 && c < NumColors
}

func (c Color) String() string {
	if !c.Valid() {
		return fmt.Sprintf("color(%d)", int(c))
	}
	return colorNames[c]
}

// Colors returns every palette color in order.
func Colors() []Color {
	all := make([]Color, NumColors)
	for i := range all {
		all[i] = Color(i)
	}
	return all
}

// Tile is the current state of one cell: its position, color, the username
// that last painted it, and the server-assigned time of that change in
// milliseconds since the epoch.
type Tile struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Color Color  `json:"color"`
	Owner string `json:"owner"`
	Time  int64  `json:"time"`
}

// Board is the square grid of tiles for one running server. Reads and writes
// are individually safe; ordering across writers is the caller's concern.
type Board struct {
	mu    sync.RWMutex
	dim   int
	tiles [][]Tile
}

// New creates a dim x dim board with every cell set to the default tile:
// white, no owner, stamped with the creation time.
func New(dim int) *Board {
	now := time.Now().UnixMilli()
	tiles := make([][]Tile, dim)
	for row := range tiles {
		tiles[row] = make([]Tile, dim)
		for col := range tiles[row] {
			tiles[row][col] = Tile{Row: row, Col: col, Color: White, Time: now}
		}
	}
	return &Board{dim: dim, tiles: tiles}
}

func (b *Board) Dim() int {
	return b.dim
}

// InRange reports whether (row, col) addresses a cell on this board.
func (b *Board) InRange(row, col int) bool {
	return row >= 0 && row < b.dim && col >= 0 && col < b.dim
}

// Get returns the current tile at (row, col). The coordinate must be in
// range; callers validate with InRange first.
func (b *Board) Get(row, col int) Tile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tiles[row][col]
}

// Set unconditionally replaces the tile at the tile's own coordinates. The
// coordinate must be in range; callers validate with InRange first.
func (b *Board) Set(t Tile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tiles[t.Row][t.Col] = t
}

// Snapshot is a full copy of a board's state, suitable for the wire.
type Snapshot struct {
	Dim   int      `json:"dim"`
	Tiles [][]Tile `json:"tiles"`
}

// Snapshot deep-copies the current state. The copy does not change when the
// board does.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tiles := make([][]Tile, b.dim)
	for row := range tiles {
		tiles[row] = make([]Tile, b.dim)
		copy(tiles[row], b.tiles[row])
	}
	return Snapshot{Dim: b.dim, Tiles: tiles}
}

// FromSnapshot builds a board from a snapshot, copying the tiles.
func FromSnapshot(s Snapshot) *Board {
	tiles := make([][]Tile, s.Dim)
	for row := range tiles {
		tiles[row] = make([]Tile, s.Dim)
		if row < len(s.Tiles) {
			copy(tiles[row], s.Tiles[row])
		}
	}
	return &Board{dim: s.Dim, tiles: tiles}
}

// String renders the grid as one color initial per cell, for logs and
// console dumps.
func (b *Board) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sb strings.Builder
	for _, row := range b.tiles {
		for _, t := range row {
			sb.WriteString(t.Color.String()[:1])
			sb.WriteString(" ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
