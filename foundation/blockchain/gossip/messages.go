package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the kind of a wire message.
type MessageType string

// Set of wire message types understood by a node.
const (
	TypeHandshake     MessageType = "handshake"
	TypeHandshakeBack MessageType = "handshake-back"
	TypeBroadcast     MessageType = "broadcast"
)

// ErrMalformed is returned when a frame can't be decoded into a message.
var ErrMalformed = errors.New("malformed message")

// Message is the set of decoded wire messages. The concrete type is one
// of Handshake, HandshakeBack, Broadcast or Unknown.
type Message interface {
	isMessage()
}

// Handshake is sent by a node to a peer that just connected to it. Address
// is the id the node registered the peer under and From is the node's own
// dialable address.
type Handshake struct {
	Type    MessageType `json:"type"`
	Address string      `json:"address"`
	From    string      `json:"from"`
}

// HandshakeBack is sent by a node right after it dials a peer. Address and
// From both carry the dialing node's own dialable address.
type HandshakeBack struct {
	Type    MessageType `json:"type"`
	Address string      `json:"address"`
	From    string      `json:"from"`
}

// Broadcast is the gossip envelope. Message is any JSON value and is never
// interpreted, only the id decides whether an envelope is valid. Raw holds
// the frame exactly as it was received so relays forward it unmodified,
// including fields this node doesn't know about.
type Broadcast struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id"`
	From    string          `json:"from"`
	Message json.RawMessage `json:"message,omitempty"`
	Raw     []byte          `json:"-"`
}

// Text returns the payload as a string. A JSON string payload is unquoted,
// any other value is returned as its JSON text.
func (b Broadcast) Text() string {
	var s string
	if err := json.Unmarshal(b.Message, &s); err == nil {
		return s
	}

	return string(b.Message)
}

// Unknown is any well formed frame with a type this node doesn't handle.
type Unknown struct {
	Type MessageType
	Raw  []byte
}

func (Handshake) isMessage()     {}
func (HandshakeBack) isMessage() {}
func (Broadcast) isMessage()     {}
func (Unknown) isMessage()       {}

// =============================================================================

// NewHandshake constructs a handshake message.
func NewHandshake(address string, from string) Handshake {
	return Handshake{
		Type:    TypeHandshake,
		Address: address,
		From:    from,
	}
}

// NewHandshakeBack constructs a handshake-back message.
func NewHandshakeBack(address string) HandshakeBack {
	return HandshakeBack{
		Type:    TypeHandshakeBack,
		Address: address,
		From:    address,
	}
}

// NewBroadcast constructs a broadcast envelope originating at from that
// carries the message as a JSON string.
func NewBroadcast(id string, from string, message string) Broadcast {

	// Marshaling a string can't fail.
	payload, _ := json.Marshal(message)

	return Broadcast{
		Type:    TypeBroadcast,
		ID:      id,
		From:    from,
		Message: payload,
	}
}

// Encode marshals the message into a frame. A Broadcast or Unknown that
// was decoded from the wire is returned as it was received.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Broadcast:
		if m.Raw != nil {
			return m.Raw, nil
		}
	case Unknown:
		return m.Raw, nil
	}

	return json.Marshal(msg)
}

// Decode parses a frame into a message. Frames that aren't JSON objects,
// and known message types missing required fields, return ErrMalformed.
func Decode(data []byte) (Message, error) {
	var hdr struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	switch hdr.Type {
	case TypeHandshake:
		var m Handshake
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrMalformed, hdr.Type, err)
		}
		if m.Address == "" {
			return nil, fmt.Errorf("%w: %s: missing address", ErrMalformed, hdr.Type)
		}
		return m, nil

	case TypeHandshakeBack:
		var m HandshakeBack
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrMalformed, hdr.Type, err)
		}
		if m.Address == "" {
			return nil, fmt.Errorf("%w: %s: missing address", ErrMalformed, hdr.Type)
		}
		return m, nil

	case TypeBroadcast:
		var m Broadcast
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrMalformed, hdr.Type, err)
		}
		if m.ID == "" {
			return nil, fmt.Errorf("%w: %s: missing id", ErrMalformed, hdr.Type)
		}
		m.Raw = data
		return m, nil
	}

	return Unknown{Type: hdr.Type, Raw: data}, nil
}
