package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cameroncuttingedge/pixel_canvas/board"
)

// MessageType tags the active variant of a Message.
type MessageType string

const (
	TypeLogin        MessageType = "LOGIN"
	TypeLoginSuccess MessageType = "LOGIN_SUCCESS"
	TypeBoard        MessageType = "BOARD"
	TypeChangeTile   MessageType = "CHANGE_TILE"
	TypeTileChanged  MessageType = "TILE_CHANGED"
	TypeError        MessageType = "ERROR"
)

// Message is the wire envelope. Exactly one variant is active; the payload
// must decode as the shape the type demands, anything else is a protocol
// violation.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encode(t MessageType, payload interface{}) Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payloads are strings, tiles, and snapshots; none can fail to marshal.
		panic(fmt.Sprintf("protocol: marshal %s payload: %v", t, err))
	}
	return Message{Type: t, Payload: raw}
}

func NewLogin(username string) Message {
	return encode(TypeLogin, username)
}

func NewLoginSuccess(username string) Message {
	return encode(TypeLoginSuccess, username)
}

func NewBoard(snap board.Snapshot) Message {
	return encode(TypeBoard, snap)
}

func NewChangeTile(t board.Tile) Message {
	return encode(TypeChangeTile, t)
}

func NewTileChanged(t board.Tile) Message {
	return encode(TypeTileChanged, t)
}

func NewError(reason string) Message {
	return encode(TypeError, reason)
}

// Username decodes the payload of a LOGIN or LOGIN_SUCCESS message.
func (m Message) Username() (string, error) {
	if m.Type != TypeLogin && m.Type != TypeLoginSuccess {
		return "", fmt.Errorf("protocol: %s carries no username", m.Type)
	}
	var username string
	if err := json.Unmarshal(m.Payload, &username); err != nil {
		return "", fmt.Errorf("protocol: malformed %s payload: %w", m.Type, err)
	}
	return username, nil
}

// Tile decodes the payload of a CHANGE_TILE or TILE_CHANGED message.
func (m Message) Tile() (board.Tile, error) {
	if m.Type != TypeChangeTile && m.Type != TypeTileChanged {
		return board.Tile{}, fmt.Errorf("protocol: %s carries no tile", m.Type)
	}
	var t board.Tile
	if err := json.Unmarshal(m.Payload, &t); err != nil {
		return board.Tile{}, fmt.Errorf("protocol: malformed %s payload: %w", m.Type, err)
	}
	return t, nil
}

// BoardSnapshot decodes the payload of a BOARD message.
func (m Message) BoardSnapshot() (board.Snapshot, error) {
	if m.Type != TypeBoard {
		return board.Snapshot{}, fmt.Errorf("protocol: %s carries no board", m.Type)
	}
	var snap board.Snapshot
	if err := json.Unmarshal(m.Payload, &snap); err != nil {
		return board.Snapshot{}, fmt.Errorf("protocol: malformed %s payload: %w", m.Type, err)
	}
	return snap, nil
}

// Reason decodes the payload of an ERROR message.
func (m Message) Reason() (string, error) {
	if m.Type != TypeError {
		return "", fmt.Errorf("protocol: %s carries no reason", m.Type)
	}
	var reason string
	if err := json.Unmarshal(m.Payload, &reason); err != nil {
		return "", fmt.Errorf("protocol: malformed %s payload: %w", m.Type, err)
	}
	return reason, nil
}
