package signaling

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/vmihailenco/msgpack/v5"
)

// Message is one binary websocket frame between client and server.
// Requests carry an ID that the matching result or error echoes back;
// events carry the SubID of the subscription they belong to.
type Message struct {
	Type    string             `msgpack:"type"`
	ID      string             `msgpack:"id,omitempty"`
	SubID   string             `msgpack:"sub_id,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
	Error   *ErrorPayload      `msgpack:"error,omitempty"`
}

// Message type constants.
const (
	MessageTypeInsertCall     = "insert_call"
	MessageTypeGetCall        = "get_call"
	MessageTypeSetOffer       = "set_offer"
	MessageTypeSetAnswer      = "set_answer"
	MessageTypeDeleteCall     = "delete_call"
	MessageTypeAddCandidate   = "add_candidate"
	MessageTypeListCandidates = "list_candidates"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeUnsubscribe    = "unsubscribe"

	MessageTypeResult = "result"
	MessageTypeError  = "error"
	MessageTypeEvent  = "event"
)

// CallRequest addresses a call by id.
type CallRequest struct {
	CallID string `msgpack:"call_id"`
}

// DescriptionRequest writes the offer or answer of a call.
type DescriptionRequest struct {
	CallID      string            `msgpack:"call_id"`
	Description store.Description `msgpack:"description"`
}

// CandidateRequest adds a candidate to one side of a call.
type CandidateRequest struct {
	Channel   store.Channel   `msgpack:"channel"`
	Candidate store.Candidate `msgpack:"candidate"`
}

// ListRequest reads one side's candidates.
type ListRequest struct {
	Channel store.Channel `msgpack:"channel"`
	CallID  string        `msgpack:"call_id"`
}

// SubscribeRequest opens a subscription under the message's SubID.
type SubscribeRequest struct {
	Filter store.Filter `msgpack:"filter"`
}

// Error codes map store sentinels across the wire.
const (
	CodeNotFound = "not_found"
	CodeConflict = "conflict"
	CodeInvalid  = "invalid"
	CodeClosed   = "closed"
	CodeInternal = "internal"
)

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// NewMessage builds a message with payload encoded in place.
func NewMessage(typ, id string, payload any) (*Message, error) {
	msg := &Message{Type: typ, ID: id}
	if payload != nil {
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		msg.Payload = b
	}
	return msg, nil
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := msgpack.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

func Encode(m *Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

func Decode(b []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ErrorResponse builds the error frame answering request id.
func ErrorResponse(id string, err error) *Message {
	return &Message{
		Type:  MessageTypeError,
		ID:    id,
		Error: &ErrorPayload{Code: CodeFor(err), Message: err.Error()},
	}
}

// CodeFor classifies err for the wire.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrConflict):
		return CodeConflict
	case errors.Is(err, store.ErrInvalid):
		return CodeInvalid
	case errors.Is(err, store.ErrClosed):
		return CodeClosed
	default:
		return CodeInternal
	}
}

// Err turns an error payload back into an error that matches the store
// sentinels with errors.Is.
func (p *ErrorPayload) Err() error {
	switch p.Code {
	case CodeNotFound:
		return store.ErrNotFound
	case CodeConflict:
		return store.ErrConflict
	case CodeInvalid:
		return fmt.Errorf("%w: %s", store.ErrInvalid, p.Message)
	case CodeClosed:
		return store.ErrClosed
	default:
		return errors.New(p.Message)
	}
}
