package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erain9/marketreplica/pkg/core"
)

// Envelope types exchanged with the matching engine
const (
	TypeConfirmEnter    = "confirm_enter"
	TypeConfirmTrade    = "confirm_trade"
	TypeConfirmCancel   = "confirm_cancel"
	TypeError           = "error"
	TypeEnter           = "enter"
	TypeCancel          = "cancel"
	TypeAcceptImmediate = "accept_immediate"
)

// ErrProtocolViolation is matched by every ProtocolViolationError
var ErrProtocolViolation = errors.New("protocol violation")

// Envelope is the typed frame carried by every transport.
//
// Seq is the envelope's 1-based position in the event stream, set by
// transports that number their messages (kafka offset + 1). It is 0 when the
// transport has no positions and never travels on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Seq     uint64          `json:"-"`
}

// ProtocolViolationError reports an inbound envelope the replica cannot
// interpret. It ends the session.
type ProtocolViolationError struct {
	Type string
	Err  error
}

func (e *ProtocolViolationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol violation: unrecognized event type %q", e.Type)
	}
	return fmt.Sprintf("protocol violation: %s: %v", e.Type, e.Err)
}

// Unwrap exposes the decode error
func (e *ProtocolViolationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProtocolViolation) hold
func (e *ProtocolViolationError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// RequestSender forwards the viewer's outbound requests to the matching engine
type RequestSender interface {
	Send(ctx context.Context, env Envelope) error
}

// EventSource yields inbound envelopes in arrival order. Next returns io.EOF
// once the stream has ended.
type EventSource interface {
	Next(ctx context.Context) (Envelope, error)
}

// EnterRequest is the payload of an enter request
type EnterRequest struct {
	Price     int64  `json:"price"`
	Volume    int64  `json:"volume"`
	IsBid     bool   `json:"is_bid"`
	PCode     string `json:"pcode"`
	AssetName string `json:"asset_name"`
}

// NewEnterRequest builds an enter envelope
func NewEnterRequest(req EnterRequest) (Envelope, error) {
	return newEnvelope(TypeEnter, req)
}

// NewCancelRequest builds a cancel envelope for a resting order
func NewCancelRequest(order core.Order) (Envelope, error) {
	return newEnvelope(TypeCancel, order)
}

// NewAcceptImmediateRequest builds an accept_immediate envelope for a resting order
func NewAcceptImmediateRequest(order core.Order) (Envelope, error) {
	return newEnvelope(TypeAcceptImmediate, order)
}

// NewEventEnvelope wraps an inbound event, used by test feeds and replays
func NewEventEnvelope(ev Event) (Envelope, error) {
	switch e := ev.(type) {
	case OrderEntered:
		return newEnvelope(TypeConfirmEnter, e.Order)
	case OrderCanceled:
		return newEnvelope(TypeConfirmCancel, e.Order)
	case TradeConfirmed:
		return newEnvelope(TypeConfirmTrade, e.Trade)
	case RemoteError:
		return newEnvelope(TypeError, e.Err)
	default:
		return Envelope{}, fmt.Errorf("event %T: %w", ev, core.ErrInvalidArgument)
	}
}

func newEnvelope(typ string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: data}, nil
}
