// Package protocol defines the wire envelopes exchanged between clients and the
// sync server. Each message is a single JSON object {"type": ..., "payload": ...}
// with one payload shape per type.
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// client -> server
	TypeRelay = "relay"
	TypePull  = "pull"
	TypePush  = "push"

	// server -> client
	TypeRelayed      = "relayed"
	TypeAcknowledged = "acknowledged"
	TypeRejected     = "rejected"
)

const (
	PushEphemeral = "ephemeral"
	PushDurable   = "durable"
)

// Increment is one client-originated unit of change. Its internal shape belongs
// to the document collaborators; the sync core carries it opaquely. The
// repository may return a transformed form from a save (assigned id and version).
type Increment = json.RawMessage

// RelayRequest carries increments to fan out to other sessions without persisting.
type RelayRequest struct {
	Increments []Increment `json:"increments"`
}

// PullRequest asks for all increments committed after the given version.
type PullRequest struct {
	LastAcknowledgedVersion int64 `json:"lastAcknowledgedVersion"`
}

// PushRequest submits increments either for best-effort relay (ephemeral) or for
// a durable, versioned append (durable).
type PushRequest struct {
	Kind       string      `json:"type"`
	Increments []Increment `json:"increments"`
}

// ClientMessage is the decoded client envelope. Exactly one of the variant
// pointers is set.
type ClientMessage struct {
	Relay *RelayRequest
	Pull  *PullRequest
	Push  *PushRequest
}

// UnknownTypeError marks an envelope whose type tag is not part of the protocol.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeClientMessage parses a raw inbound message into a ClientMessage. A
// malformed envelope or payload returns an error wrapping the json failure; an
// unrecognised type tag returns an *UnknownTypeError.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	switch env.Type {
	case TypeRelay:
		var p RelayRequest
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return ClientMessage{}, fmt.Errorf("failed to decode relay payload: %w", err)
		}
		return ClientMessage{Relay: &p}, nil
	case TypePull:
		var p PullRequest
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return ClientMessage{}, fmt.Errorf("failed to decode pull payload: %w", err)
		}
		return ClientMessage{Pull: &p}, nil
	case TypePush:
		var p PushRequest
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return ClientMessage{}, fmt.Errorf("failed to decode push payload: %w", err)
		}
		return ClientMessage{Push: &p}, nil
	default:
		return ClientMessage{}, &UnknownTypeError{Type: env.Type}
	}
}

type relayedPayload struct {
	Increments []Increment `json:"increments"`
}

type acknowledgedPayload struct {
	Increments []Increment `json:"increments"`
}

type rejectedPayload struct {
	Message    string      `json:"message"`
	Increments []Increment `json:"increments"`
}

func encode(messageType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", messageType, err)
	}
	out, err := json.Marshal(envelope{Type: messageType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", messageType, err)
	}
	return out, nil
}

// EncodeRelayed builds the fan-out form of a relay: the increments pass through
// untouched.
func EncodeRelayed(increments []Increment) ([]byte, error) {
	return encode(TypeRelayed, relayedPayload{Increments: increments})
}

// EncodeAcknowledged builds the message confirming committed increments, in
// commit order, in the form the repository committed them.
func EncodeAcknowledged(increments []Increment) ([]byte, error) {
	return encode(TypeAcknowledged, acknowledgedPayload{Increments: increments})
}

// EncodeRejected builds the reply to the sender of a durable push the repository
// refused, carrying the reason and the original increments.
func EncodeRejected(message string, increments []Increment) ([]byte, error) {
	return encode(TypeRejected, rejectedPayload{Message: message, Increments: increments})
}
