package messaging

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/erain9/marketreplica/pkg/core"
)

// EventKind enumerates the inbound event kinds
type EventKind int

// Inbound event kinds
const (
	KindOrderEntered EventKind = iota
	KindOrderCanceled
	KindTrade
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindOrderEntered:
		return "order-entered"
	case KindOrderCanceled:
		return "order-canceled"
	case KindTrade:
		return "trade"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one decoded inbound event. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	isEvent()
}

// OrderEntered confirms an order now resting in a book
type OrderEntered struct{ Order core.Order }

// OrderCanceled confirms an order left its book
type OrderCanceled struct{ Order core.Order }

// TradeConfirmed confirms an executed trade
type TradeConfirmed struct{ Trade core.Trade }

// RemoteError carries an engine-side error for one participant
type RemoteError struct{ Err core.RemoteError }

func (OrderEntered) Kind() EventKind   { return KindOrderEntered }
func (OrderCanceled) Kind() EventKind  { return KindOrderCanceled }
func (TradeConfirmed) Kind() EventKind { return KindTrade }
func (RemoteError) Kind() EventKind    { return KindError }

func (OrderEntered) isEvent()   {}
func (OrderCanceled) isEvent()  {}
func (TradeConfirmed) isEvent() {}
func (RemoteError) isEvent()    {}

var errEmptyPayload = errors.New("empty payload")

// Decode turns an envelope into an Event. Unknown types and payloads that do
// not decode are reported as *ProtocolViolationError.
func Decode(env Envelope) (Event, error) {
	switch env.Type {
	case TypeConfirmEnter:
		var o core.Order
		if err := decodePayload(env, &o); err != nil {
			return nil, err
		}
		return OrderEntered{Order: o}, nil
	case TypeConfirmCancel:
		var o core.Order
		if err := decodePayload(env, &o); err != nil {
			return nil, err
		}
		return OrderCanceled{Order: o}, nil
	case TypeConfirmTrade:
		var t core.Trade
		if err := decodePayload(env, &t); err != nil {
			return nil, err
		}
		return TradeConfirmed{Trade: t}, nil
	case TypeError:
		var e core.RemoteError
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return RemoteError{Err: e}, nil
	default:
		return nil, &ProtocolViolationError{Type: env.Type}
	}
}

func decodePayload(env Envelope, v interface{}) error {
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return &ProtocolViolationError{Type: env.Type, Err: errEmptyPayload}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &ProtocolViolationError{Type: env.Type, Err: err}
	}
	return nil
}
