package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_Enter(t *testing.T) {
	sender := messaging.NewMockRequestSender()
	gw := New(sender, "p1", WithLogger(zerolog.Nop()))

	require.NoError(t, gw.Enter(context.Background(), 5, 10, true, "A"))

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, messaging.TypeEnter, sent[0].Type)

	var req messaging.EnterRequest
	require.NoError(t, json.Unmarshal(sent[0].Payload, &req))
	assert.Equal(t, messaging.EnterRequest{Price: 5, Volume: 10, IsBid: true, PCode: "p1", AssetName: "A"}, req)
}

func TestGateway_CancelAndAccept(t *testing.T) {
	sender := messaging.NewMockRequestSender()
	gw := New(sender, "p1", WithLogger(zerolog.Nop()))
	o := core.Order{OrderID: 4, Price: 7, Volume: 1, PCode: "other", AssetName: "A"}

	require.NoError(t, gw.Cancel(context.Background(), o))
	require.NoError(t, gw.AcceptImmediate(context.Background(), o))

	sent := sender.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, messaging.TypeCancel, sent[0].Type)
	assert.Equal(t, messaging.TypeAcceptImmediate, sent[1].Type)

	var forwarded core.Order
	require.NoError(t, json.Unmarshal(sent[1].Payload, &forwarded))
	assert.Equal(t, o, forwarded)
}

func TestGateway_RateLimit(t *testing.T) {
	sender := messaging.NewMockRequestSender()
	gw := New(sender, "p1", WithLogger(zerolog.Nop()), WithRateLimit(0.001, 2))
	ctx := context.Background()

	require.NoError(t, gw.Enter(ctx, 1, 1, true, "A"))
	require.NoError(t, gw.Enter(ctx, 1, 1, true, "A"))
	err := gw.Enter(ctx, 1, 1, true, "A")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, sender.Sent(), 2)
}

func TestGateway_SendError(t *testing.T) {
	sender := messaging.NewMockRequestSender()
	sender.Err = errors.New("engine unreachable")
	gw := New(sender, "p1", WithLogger(zerolog.Nop()), WithRateLimit(0, 0))

	err := gw.Enter(context.Background(), 1, 1, false, "A")
	assert.ErrorContains(t, err, "engine unreachable")
}
