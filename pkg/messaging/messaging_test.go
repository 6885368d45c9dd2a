package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownTypes(t *testing.T) {
	order := core.Order{OrderID: 7, Price: 10, Volume: 2, IsBid: true, PCode: "p1", AssetName: "A", Timestamp: 1.5}
	trade := core.Trade{Timestamp: 2, AssetName: "A", TakingOrder: order, MakingOrders: []core.Order{order}}

	tests := []struct {
		name string
		ev   Event
		kind EventKind
	}{
		{"enter", OrderEntered{Order: order}, KindOrderEntered},
		{"cancel", OrderCanceled{Order: order}, KindOrderCanceled},
		{"trade", TradeConfirmed{Trade: trade}, KindTrade},
		{"error", RemoteError{Err: core.RemoteError{PCode: "p1", Message: "boom"}}, KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEventEnvelope(tt.ev)
			require.NoError(t, err)

			decoded, err := Decode(env)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, decoded.Kind())
			assert.Equal(t, tt.ev, decoded)
		})
	}
}

func TestDecode_WireFormat(t *testing.T) {
	raw := `{"type":"confirm_enter","payload":{"timestamp":1.0,"price":10,"volume":3,"is_bid":false,"pcode":"abc","traded_volume":0,"order_id":4,"asset_name":"X"}}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))

	ev, err := Decode(env)
	require.NoError(t, err)
	entered, ok := ev.(OrderEntered)
	require.True(t, ok)
	assert.Equal(t, int64(4), entered.Order.OrderID)
	assert.Equal(t, "abc", entered.Order.PCode)
	assert.False(t, entered.Order.IsBid)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(Envelope{Type: "unknown_type", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolViolation))

	var pv *ProtocolViolationError
	require.True(t, errors.As(err, &pv))
	assert.Equal(t, "unknown_type", pv.Type)
	assert.Contains(t, err.Error(), "unknown_type")
}

func TestDecode_BadPayload(t *testing.T) {
	for _, payload := range []string{``, `null`, `{"price":"ten"}`, `[1,2]`} {
		_, err := Decode(Envelope{Type: TypeConfirmEnter, Payload: json.RawMessage(payload)})
		assert.ErrorIs(t, err, ErrProtocolViolation, "payload %q", payload)
	}
}

func TestRequests(t *testing.T) {
	env, err := NewEnterRequest(EnterRequest{Price: 5, Volume: 10, IsBid: true, PCode: "p1", AssetName: "A"})
	require.NoError(t, err)
	assert.Equal(t, TypeEnter, env.Type)
	assert.JSONEq(t, `{"price":5,"volume":10,"is_bid":true,"pcode":"p1","asset_name":"A"}`, string(env.Payload))

	order := core.Order{OrderID: 3, Price: 5, Volume: 1, PCode: "p1"}
	env, err = NewCancelRequest(order)
	require.NoError(t, err)
	assert.Equal(t, TypeCancel, env.Type)

	env, err = NewAcceptImmediateRequest(order)
	require.NoError(t, err)
	assert.Equal(t, TypeAcceptImmediate, env.Type)

	var decoded core.Order
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, order, decoded)
}

func TestMocks(t *testing.T) {
	ctx := context.Background()
	sender := NewMockRequestSender()
	require.NoError(t, sender.Send(ctx, Envelope{Type: TypeEnter}))
	assert.Len(t, sender.Sent(), 1)

	sender.Err = errors.New("down")
	assert.Error(t, sender.Send(ctx, Envelope{Type: TypeEnter}))

	src := NewSliceSource(Envelope{Type: TypeError})
	env, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeError, env.Type)
	_, err = src.Next(ctx)
	assert.Equal(t, io.EOF, err)
}
