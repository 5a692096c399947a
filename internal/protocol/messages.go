// Package protocol defines the JSON messages exchanged over the signaling
// channel. Negotiation payloads travel in Data and are never inspected here.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
)

type MessageType string

// client -> server
const (
	TypeJoin  MessageType = "join"
	TypeLeave MessageType = "leave"
	TypePing  MessageType = "ping"
)

// server -> client
const (
	TypeWelcome    MessageType = "welcome"
	TypePeers      MessageType = "peers"
	TypeUserJoined MessageType = "user-joined"
	TypeUserLeft   MessageType = "user-left"
	TypePong       MessageType = "pong"
	TypeError      MessageType = "error"
)

// TypeSignal flows in both directions: the client addresses it with To, the
// server stamps From and drops To and Room.
const TypeSignal MessageType = "signal"

var ErrInvalidMessage = errors.New("invalid message")

type Message struct {
	Type  MessageType       `json:"type"`
	Room  domain.RoomName   `json:"room,omitempty"`
	ID    domain.MemberID   `json:"id,omitempty"`
	Peers []domain.MemberID `json:"peers,omitempty"`
	To    domain.MemberID   `json:"to,omitempty"`
	From  domain.MemberID   `json:"from,omitempty"`
	Data  json.RawMessage   `json:"data,omitempty"`
	Error string            `json:"error,omitempty"`
}

func Welcome(id domain.MemberID) Message { return Message{Type: TypeWelcome, ID: id} }

func Peers(ids []domain.MemberID) Message {
	if ids == nil {
		ids = []domain.MemberID{}
	}
	return Message{Type: TypePeers, Peers: ids}
}

func UserJoined(id domain.MemberID) Message { return Message{Type: TypeUserJoined, ID: id} }

func UserLeft(id domain.MemberID) Message { return Message{Type: TypeUserLeft, ID: id} }

func Forward(from domain.MemberID, data json.RawMessage) Message {
	return Message{Type: TypeSignal, From: from, Data: data}
}

func Errorf(format string, args ...any) Message {
	return Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

// Parse decodes and validates a message received by either side.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch m.Type {
	case TypeJoin:
		if _, err := domain.ParseRoomName(string(m.Room)); err != nil {
			return fmt.Errorf("%w: join: %v", ErrInvalidMessage, err)
		}
	case TypeSignal:
		if m.To == "" && m.From == "" {
			return fmt.Errorf("%w: signal without addressee", ErrInvalidMessage)
		}
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: signal without data", ErrInvalidMessage)
		}
	case TypeWelcome, TypeUserJoined, TypeUserLeft:
		if m.ID == "" {
			return fmt.Errorf("%w: %s without id", ErrInvalidMessage, m.Type)
		}
	case TypeLeave, TypePing, TypePong, TypePeers, TypeError:
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// wire drops Message's methods so MarshalJSON can fall back to the tags.
type wire Message

// MarshalJSON always writes the list of a peers message, an empty room
// included; every other type omits it.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Type != TypePeers {
		return json.Marshal(wire(m))
	}
	peers := m.Peers
	if peers == nil {
		peers = []domain.MemberID{}
	}
	return json.Marshal(struct {
		wire
		Peers []domain.MemberID `json:"peers"`
	}{wire(m), peers})
}
