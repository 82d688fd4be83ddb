package stats

import (
	"sync"
	"time"

	"github.com/cameroncuttingedge/pixel_canvas/board"
	"github.com/cameroncuttingedge/pixel_canvas/events"
	"github.com/rs/zerolog/log"
)

// Collector counts accepted tile changes: total, per color, and per row and
// column. It consumes the event bus and never touches the protocol.
type Collector struct {
	mu          sync.Mutex
	start       time.Time
	tilesPlaced int
	colors      map[string]int
	rows        map[int]int
	cols        map[int]int
}

// NewCollector sets up counters for a dim x dim canvas. Every color, row,
// and column starts at zero so an untouched row can still rank least
// popular.
func NewCollector(dim int) *Collector {
	colors := make(map[string]int, board.NumColors)
	for _, c := range board.Colors() {
		colors[c.String()] = 0
	}
	rows := make(map[int]int, dim)
	cols := make(map[int]int, dim)
	for i := 0; i < dim; i++ {
		rows[i] = 0
		cols[i] = 0
	}
	return &Collector{
		start:  time.Now(),
		colors: colors,
		rows:   rows,
		cols:   cols,
	}
}

// Listen drains the bus until it closes. Run it on its own goroutine.
func (c *Collector) Listen(bus *events.Bus) {
	for ev := range bus.C() {
		c.Record(ev.Tile)
	}
	log.Info().Msg("Stats listener exited")
}

// Record counts one accepted tile change.
func (c *Collector) Record(t board.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tilesPlaced++
	c.colors[t.Color.String()]++
	c.rows[t.Row]++
	c.cols[t.Col]++
}

// Report is a point-in-time view of the counters.
type Report struct {
	TilesPlaced     int            `json:"tilesPlaced"`
	TilesPerMinute  float64        `json:"tilesPerMinute"`
	Colors          map[string]int `json:"colors"`
	MostPopularRow  int            `json:"mostPopularRow"`
	MostPopularCol  int            `json:"mostPopularCol"`
	LeastPopularRow int            `json:"leastPopularRow"`
	LeastPopularCol int            `json:"leastPopularCol"`
}

// Report snapshots the counters.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	minutes := time.Since(c.start).Minutes()
	perMinute := 0.0
	if minutes > 0 {
		perMinute = float64(c.tilesPlaced) / minutes
	}

	colors := make(map[string]int, len(c.colors))
	for name, n := range c.colors {
		colors[name] = n
	}

	mostRow, leastRow := extremes(c.rows)
	mostCol, leastCol := extremes(c.cols)

	return Report{
		TilesPlaced:     c.tilesPlaced,
		TilesPerMinute:  perMinute,
		Colors:          colors,
		MostPopularRow:  mostRow,
		MostPopularCol:  mostCol,
		LeastPopularRow: leastRow,
		LeastPopularCol: leastCol,
	}
}

// LogSummary writes the final counters to the log, typically at shutdown.
func (c *Collector) LogSummary() {
	r := c.Report()
	log.Info().
		Int("tilesPlaced", r.TilesPlaced).
		Float64("tilesPerMinute", r.TilesPerMinute).
		Int("mostPopularRow", r.MostPopularRow).
		Int("mostPopularCol", r.MostPopularCol).
		Msg("Final canvas statistics")
}

func extremes(counts map[int]int) (most, least int) {
	first := true
	for k, n := range counts {
		if first {
			most, least = k, k
			first = false
			continue
		}
		if n > counts[most] || (n == counts[most] && k < most) {
			most = k
		}
		if n < counts[least] || (n == counts[least] && k < least) {
			least = k
		}
	}
	return most, least
}
