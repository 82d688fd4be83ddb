package protocol

import (
	"encoding/json"
	"testing"

	"github.com/cameroncuttingedge/pixel_canvas/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip pushes a message through JSON the way the websocket layer does.
func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var out Message
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestLoginCarriesUsername(t *testing.T) {
	m := roundTrip(t, NewLogin("alice"))
	require.Equal(t, TypeLogin, m.Type)
	username, err := m.Username()
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestTileChangedCarriesTile(t *testing.T) {
	tile := board.Tile{Row: 2, Col: 3, Color: board.Red, Owner: "alice", Time: 42}
	m := roundTrip(t, NewTileChanged(tile))
	require.Equal(t, TypeTileChanged, m.Type)
	got, err := m.Tile()
	require.NoError(t, err)
	assert.Equal(t, tile, got)
}

func TestBoardCarriesSnapshot(t *testing.T) {
	b := board.New(3)
	b.Set(board.Tile{Row: 1, Col: 1, Color: board.Teal, Owner: "bob", Time: 9})

	m := roundTrip(t, NewBoard(b.Snapshot()))
	require.Equal(t, TypeBoard, m.Type)
	snap, err := m.BoardSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Dim)
	assert.Equal(t, board.Teal, snap.Tiles[1][1].Color)
}

func TestErrorCarriesReason(t *testing.T) {
	m := roundTrip(t, NewError("username alice is already taken"))
	reason, err := m.Reason()
	require.NoError(t, err)
	assert.Equal(t, "username alice is already taken", reason)
}

func TestTypePayloadMismatchIsRejected(t *testing.T) {
	login := NewLogin("alice")
	_, err := login.Tile()
	assert.Error(t, err)
	_, err = login.BoardSnapshot()
	assert.Error(t, err)
	_, err = login.Reason()
	assert.Error(t, err)

	changed := NewTileChanged(board.Tile{Row: 1, Col: 1})
	_, err = changed.Username()
	assert.Error(t, err)
}

func TestMalformedPayloadIsRejected(t *testing.T) {
	m := Message{Type: TypeLogin, Payload: json.RawMessage(`{"not": "a string"}`)}
	_, err := m.Username()
	assert.Error(t, err)

	m = Message{Type: TypeChangeTile, Payload: json.RawMessage(`"not a tile"`)}
	_, err = m.Tile()
	assert.Error(t, err)
}
