package replica

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewer = "viewer"

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) kinds() []messaging.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]messaging.EventKind, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Kind
	}
	return out
}

func newTestReplica(t *testing.T) (*Replicator, *recorder) {
	t.Helper()
	r, err := New(Config{
		PCode:    viewer,
		Holdings: core.NewHoldings(1000, map[string]int64{"A": 20}),
	}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	rec := &recorder{}
	r.Subscribe(rec)
	return r, rec
}

func order(id, price, volume int64, ts float64, isBid bool, pcode string) core.Order {
	return core.Order{
		OrderID:   id,
		Price:     price,
		Volume:    volume,
		Timestamp: ts,
		IsBid:     isBid,
		PCode:     pcode,
		AssetName: "A",
	}
}

func dec(v float64) fpdecimal.Decimal {
	return fpdecimal.FromFloat(v)
}

func orderIDs(orders []core.Order) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.OrderID
	}
	return out
}

func mustApply(t *testing.T, r *Replicator, ev messaging.Event) {
	t.Helper()
	require.NoError(t, r.Apply(context.Background(), ev))
}

func TestNew_RequiresPCode(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestApply_BidBookOrdering(t *testing.T) {
	r, rec := newTestReplica(t)

	mustApply(t, r, messaging.OrderEntered{Order: order(1, 10, 1, 1.0, true, "other")})
	mustApply(t, r, messaging.OrderEntered{Order: order(2, 12, 1, 2.0, true, "other")})
	mustApply(t, r, messaging.OrderEntered{Order: order(3, 10, 1, 0.5, true, "other")})

	assert.Equal(t, []int64{2, 3, 1}, orderIDs(r.Bids()))
	assert.Empty(t, r.Asks())
	assert.Len(t, rec.kinds(), 3)

	best, ok := r.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(2), best.OrderID)
}

func TestApply_AskBookOrdering(t *testing.T) {
	r, _ := newTestReplica(t)

	mustApply(t, r, messaging.OrderEntered{Order: order(1, 7, 1, 3.0, false, "other")})
	mustApply(t, r, messaging.OrderEntered{Order: order(2, 5, 1, 1.0, false, "other")})

	assert.Equal(t, []int64{2, 1}, orderIDs(r.Asks()))
	best, ok := r.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(5), best.Price)
}

func TestApply_OwnBidEnterCancelRoundTrip(t *testing.T) {
	r, rec := newTestReplica(t)
	before := r.Holdings()

	o := order(1, 5, 10, 1.0, true, viewer)
	mustApply(t, r, messaging.OrderEntered{Order: o})
	assert.True(t, r.Holdings().AvailableCash.Equal(before.AvailableCash.Sub(dec(50))))
	assert.True(t, r.Holdings().SettledCash.Equal(before.SettledCash))

	mustApply(t, r, messaging.OrderCanceled{Order: o})
	assert.True(t, r.Holdings().AvailableCash.Equal(before.AvailableCash))
	assert.Empty(t, r.Bids())
	assert.Equal(t, []messaging.EventKind{messaging.KindOrderEntered, messaging.KindOrderCanceled}, rec.kinds())
}

func TestApply_OwnAskEnterCancelRoundTrip(t *testing.T) {
	r, _ := newTestReplica(t)

	o := order(1, 9, 4, 1.0, false, viewer)
	mustApply(t, r, messaging.OrderEntered{Order: o})
	assert.True(t, r.Holdings().AvailableAssets["A"].Equal(dec(16)))
	assert.True(t, r.Holdings().SettledAssets["A"].Equal(dec(20)))

	mustApply(t, r, messaging.OrderCanceled{Order: o})
	assert.True(t, r.Holdings().AvailableAssets["A"].Equal(dec(20)))
}

func TestApply_OtherParticipantLeavesHoldings(t *testing.T) {
	r, _ := newTestReplica(t)
	before := r.Holdings()

	o := order(1, 5, 10, 1.0, true, "other")
	mustApply(t, r, messaging.OrderEntered{Order: o})
	mustApply(t, r, messaging.OrderCanceled{Order: o})

	assert.Equal(t, before, r.Holdings())
}

func TestApply_DuplicateEnterRejected(t *testing.T) {
	r, rec := newTestReplica(t)

	mustApply(t, r, messaging.OrderEntered{Order: order(1, 5, 1, 1.0, true, viewer)})
	before := r.Snapshot()

	err := r.Apply(context.Background(), messaging.OrderEntered{Order: order(1, 6, 1, 2.0, false, viewer)})
	assert.ErrorIs(t, err, core.ErrOrderExists)
	assert.Equal(t, before, r.Snapshot())
	assert.Len(t, rec.kinds(), 1)
}

func TestApply_InvalidOrderRejected(t *testing.T) {
	r, _ := newTestReplica(t)
	err := r.Apply(context.Background(), messaging.OrderEntered{Order: order(1, 5, -1, 1.0, true, viewer)})
	assert.ErrorIs(t, err, core.ErrInvalidVolume)
	assert.Empty(t, r.Bids())
}

func TestApply_CancelUnknownOrder(t *testing.T) {
	r, rec := newTestReplica(t)
	mustApply(t, r, messaging.OrderEntered{Order: order(1, 5, 1, 1.0, true, "other")})
	before := r.Snapshot()

	err := r.Apply(context.Background(), messaging.OrderCanceled{Order: order(99, 5, 10, 1.0, true, viewer)})
	require.NoError(t, err)

	assert.Equal(t, before, r.Snapshot())
	assert.Len(t, rec.kinds(), 1)
}

func TestApply_TradeViewerIsBidMaker(t *testing.T) {
	r, rec := newTestReplica(t)

	maker := order(1, 10, 5, 1.0, true, viewer)
	mustApply(t, r, messaging.OrderEntered{Order: maker})

	maker.TradedVolume = 3
	trade := core.Trade{
		Timestamp:    2.0,
		AssetName:    "A",
		TakingOrder:  order(2, 10, 3, 2.0, false, "other"),
		MakingOrders: []core.Order{maker},
	}
	mustApply(t, r, messaging.TradeConfirmed{Trade: trade})

	h := r.Holdings()
	assert.True(t, h.SettledAssets["A"].Equal(dec(23)))
	assert.True(t, h.AvailableAssets["A"].Equal(dec(23)))
	assert.True(t, h.SettledCash.Equal(dec(970)))
	// 50 reserved on entry, 30 executed
	assert.True(t, h.AvailableCash.Equal(dec(920)))

	// the maker leaves the book even though 2 units were left unfilled
	assert.Empty(t, r.Bids())
	require.Len(t, r.Trades(), 1)
	assert.Equal(t, messaging.KindTrade, rec.kinds()[1])
}

func TestApply_TradeViewerIsTakerAcrossLegs(t *testing.T) {
	r, _ := newTestReplica(t)

	m1 := order(1, 5, 2, 1.0, false, "other")
	m2 := order(2, 6, 3, 1.5, false, "other")
	mustApply(t, r, messaging.OrderEntered{Order: m1})
	mustApply(t, r, messaging.OrderEntered{Order: m2})

	m1.TradedVolume = 2
	m2.TradedVolume = 1
	taker := order(3, 6, 3, 2.0, true, viewer)
	mustApply(t, r, messaging.TradeConfirmed{Trade: core.Trade{
		Timestamp:    2.0,
		AssetName:    "A",
		TakingOrder:  taker,
		MakingOrders: []core.Order{m1, m2},
	}})

	// each leg priced at its maker: 2*5 + 1*6
	h := r.Holdings()
	assert.True(t, h.SettledCash.Equal(dec(984)))
	assert.True(t, h.AvailableCash.Equal(dec(984)))
	assert.True(t, h.SettledAssets["A"].Equal(dec(23)))
	assert.Empty(t, r.Asks())
}

func TestApply_TradeViewerOnBothSides(t *testing.T) {
	r, _ := newTestReplica(t)

	maker := order(1, 4, 2, 1.0, false, viewer)
	mustApply(t, r, messaging.OrderEntered{Order: maker})

	maker.TradedVolume = 2
	mustApply(t, r, messaging.TradeConfirmed{Trade: core.Trade{
		Timestamp:    2.0,
		AssetName:    "A",
		TakingOrder:  order(2, 4, 2, 2.0, true, viewer),
		MakingOrders: []core.Order{maker},
	}})

	// sell leg then buy leg at the same price net to zero for settled amounts
	h := r.Holdings()
	assert.True(t, h.SettledCash.Equal(dec(1000)))
	assert.True(t, h.SettledAssets["A"].Equal(dec(20)))
	// the reservation made on entry is never released
	assert.True(t, h.AvailableAssets["A"].Equal(dec(18)))
}

func TestApply_TradeWithUnknownMaker(t *testing.T) {
	r, _ := newTestReplica(t)
	mustApply(t, r, messaging.OrderEntered{Order: order(5, 9, 1, 1.0, true, "other")})

	maker := order(42, 10, 1, 0.5, false, "other")
	maker.TradedVolume = 1
	err := r.Apply(context.Background(), messaging.TradeConfirmed{Trade: core.Trade{
		Timestamp:    3.0,
		TakingOrder:  order(43, 10, 1, 3.0, true, "other"),
		MakingOrders: []core.Order{maker},
	}})
	require.NoError(t, err)

	assert.Equal(t, []int64{5}, orderIDs(r.Bids()))
	assert.Len(t, r.Trades(), 1)
}

func TestApply_TradeLedgerOrder(t *testing.T) {
	r, _ := newTestReplica(t)
	for _, ts := range []float64{3.0, 1.0, 2.0} {
		mustApply(t, r, messaging.TradeConfirmed{Trade: core.Trade{Timestamp: ts, AssetName: "A"}})
	}

	var stamps []float64
	for _, tr := range r.Trades() {
		stamps = append(stamps, tr.Timestamp)
	}
	assert.Equal(t, []float64{1.0, 2.0, 3.0}, stamps)
}

func TestApply_RemoteErrorFiltered(t *testing.T) {
	r, rec := newTestReplica(t)

	mustApply(t, r, messaging.RemoteError{Err: core.RemoteError{PCode: "other", Message: "nope"}})
	assert.Empty(t, rec.kinds())

	mustApply(t, r, messaging.RemoteError{Err: core.RemoteError{PCode: viewer, Message: "insufficient cash"}})
	require.Len(t, rec.notes, 1)
	assert.Equal(t, messaging.KindError, rec.notes[0].Kind)
	assert.Equal(t, "insufficient cash", rec.notes[0].Message)
}

func TestHandleEnvelope_UnknownType(t *testing.T) {
	r, rec := newTestReplica(t)
	mustApply(t, r, messaging.OrderEntered{Order: order(1, 5, 1, 1.0, true, viewer)})
	before := r.Snapshot()

	err := r.HandleEnvelope(context.Background(), messaging.Envelope{Type: "unknown_type", Payload: []byte(`{}`)})
	assert.True(t, errors.Is(err, messaging.ErrProtocolViolation))
	assert.Equal(t, before, r.Snapshot())
	assert.Len(t, rec.kinds(), 1)
}

func envelope(t *testing.T, ev messaging.Event) messaging.Envelope {
	t.Helper()
	env, err := messaging.NewEventEnvelope(ev)
	require.NoError(t, err)
	return env
}

func TestRun_ProcessesUntilEOF(t *testing.T) {
	r, rec := newTestReplica(t)
	src := messaging.NewSliceSource(
		envelope(t, messaging.OrderEntered{Order: order(1, 5, 1, 1.0, true, "other")}),
		envelope(t, messaging.OrderCanceled{Order: order(7, 5, 1, 1.0, true, "other")}),
		envelope(t, messaging.OrderEntered{Order: order(1, 5, 1, 1.0, true, "other")}),
		envelope(t, messaging.OrderEntered{Order: order(2, 6, 1, 1.0, false, "other")}),
	)

	require.NoError(t, r.Run(context.Background(), src))
	assert.Equal(t, []int64{1}, orderIDs(r.Bids()))
	assert.Equal(t, []int64{2}, orderIDs(r.Asks()))
	assert.Equal(t, []messaging.EventKind{messaging.KindOrderEntered, messaging.KindOrderEntered}, rec.kinds())
	// the stale cancel still counts as applied, the duplicate does not
	assert.Equal(t, int64(3), r.Stats().Summary().Count)
}

func TestRun_HaltsOnProtocolViolation(t *testing.T) {
	r, _ := newTestReplica(t)
	src := messaging.NewSliceSource(
		envelope(t, messaging.OrderEntered{Order: order(1, 5, 1, 1.0, true, "other")}),
		messaging.Envelope{Type: "unknown_type"},
		envelope(t, messaging.OrderEntered{Order: order(2, 5, 1, 1.0, true, "other")}),
	)

	err := r.Run(context.Background(), src)
	var pv *messaging.ProtocolViolationError
	require.True(t, errors.As(err, &pv))
	assert.Equal(t, "unknown_type", pv.Type)
	assert.Equal(t, []int64{1}, orderIDs(r.Bids()))
}

type failingSource struct{ err error }

func (f failingSource) Next(ctx context.Context) (messaging.Envelope, error) {
	return messaging.Envelope{}, f.err
}

func TestRun_SourceErrors(t *testing.T) {
	r, _ := newTestReplica(t)

	err := r.Run(context.Background(), failingSource{err: errors.New("connection reset")})
	assert.ErrorContains(t, err, "connection reset")

	err = r.Run(context.Background(), failingSource{err: io.EOF})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.Run(ctx, messaging.NewSliceSource())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotRoundTrip(t *testing.T) {
	r, _ := newTestReplica(t)
	mustApply(t, r, messaging.OrderEntered{Order: order(1, 5, 2, 1.0, true, viewer)})
	mustApply(t, r, messaging.OrderEntered{Order: order(2, 8, 1, 1.0, false, "other")})
	mustApply(t, r, messaging.TradeConfirmed{Trade: core.Trade{Timestamp: 1.5, AssetName: "A"}})

	snap := r.Snapshot()
	restored, err := NewFromSnapshot(snap, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, viewer, restored.PCode())

	snap.Asks = append(snap.Asks, order(1, 9, 1, 2.0, false, "other"))
	_, err = NewFromSnapshot(snap)
	assert.ErrorIs(t, err, core.ErrOrderExists)
}

func TestNotifierFunc(t *testing.T) {
	r, _ := newTestReplica(t)

	var got []Notification
	r.Subscribe(NotifierFunc(func(n Notification) { got = append(got, n) }))
	o := order(1, 5, 1, 1.0, true, "other")
	mustApply(t, r, messaging.OrderEntered{Order: o})

	require.Len(t, got, 1)
	assert.Equal(t, o, got[0].Order)
}

func TestConcurrentReaders(t *testing.T) {
	r, _ := newTestReplica(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = r.Snapshot()
			_ = r.Holdings()
		}
	}()
	for i := int64(0); i < 200; i++ {
		mustApply(t, r, messaging.OrderEntered{Order: order(i, i%7, 1, float64(i), i%2 == 0, viewer)})
	}
	wg.Wait()
	assert.Len(t, append(r.Bids(), r.Asks()...), 200)
}

func TestLookup(t *testing.T) {
	r, _ := newTestReplica(t)
	mustApply(t, r, messaging.OrderEntered{Order: order(1, 10, 1, 1.0, true, "other")})
	mustApply(t, r, messaging.OrderEntered{Order: order(2, 12, 1, 1.0, false, "other")})

	o, ok := r.Lookup(2)
	require.True(t, ok)
	assert.False(t, o.IsBid)

	_, ok = r.Lookup(3)
	assert.False(t, ok)
}

// numbered stamps envelopes with stream positions starting at 1, the way the
// kafka sources do.
func numbered(t *testing.T, events ...messaging.Event) []messaging.Envelope {
	t.Helper()
	envs := make([]messaging.Envelope, len(events))
	for i, ev := range events {
		envs[i] = envelope(t, ev)
		envs[i].Seq = uint64(i + 1)
	}
	return envs
}

func TestHandleEnvelope_SkipsAppliedSeq(t *testing.T) {
	r, rec := newTestReplica(t)
	envs := numbered(t,
		messaging.OrderEntered{Order: order(1, 5, 2, 1.0, true, viewer)},
		messaging.OrderEntered{Order: order(2, 7, 1, 2.0, false, "other")},
	)
	ctx := context.Background()

	for _, env := range envs {
		require.NoError(t, r.HandleEnvelope(ctx, env))
	}
	assert.Equal(t, uint64(2), r.Seq())
	before := r.Snapshot()

	for _, env := range envs {
		require.NoError(t, r.HandleEnvelope(ctx, env))
	}
	assert.Equal(t, before, r.Snapshot())
	assert.Len(t, rec.kinds(), 2)
	assert.True(t, r.Holdings().AvailableCash.Equal(dec(990)))
}

func TestHandleEnvelope_RejectedEventIsConsumed(t *testing.T) {
	r, _ := newTestReplica(t)
	env := numbered(t, messaging.OrderEntered{Order: order(1, 5, -1, 1.0, true, viewer)})[0]

	assert.ErrorIs(t, r.HandleEnvelope(context.Background(), env), core.ErrInvalidVolume)
	assert.Equal(t, uint64(1), r.Seq())
}

func TestRestoreThenReplay_MatchesLive(t *testing.T) {
	trade := core.Trade{
		Timestamp:   2.0,
		AssetName:   "A",
		TakingOrder: order(2, 10, 3, 2.0, false, "other"),
		MakingOrders: []core.Order{
			{OrderID: 1, Price: 10, Volume: 3, TradedVolume: 3, Timestamp: 1.0, IsBid: true, PCode: viewer, AssetName: "A"},
		},
	}
	envs := numbered(t,
		messaging.OrderEntered{Order: order(1, 10, 3, 1.0, true, viewer)},
		messaging.TradeConfirmed{Trade: trade},
		messaging.OrderEntered{Order: order(3, 12, 1, 3.0, false, "other")},
		messaging.OrderCanceled{Order: order(3, 12, 1, 3.0, false, "other")},
		messaging.OrderEntered{Order: order(4, 11, 2, 4.0, false, viewer)},
	)
	ctx := context.Background()

	live, _ := newTestReplica(t)
	require.NoError(t, live.Run(ctx, messaging.NewSliceSource(envs[:2]...)))
	saved := live.Snapshot()
	assert.Equal(t, uint64(2), saved.Seq)
	require.NoError(t, live.Run(ctx, messaging.NewSliceSource(envs[2:]...)))

	t.Run("full replay", func(t *testing.T) {
		restored, err := NewFromSnapshot(saved, WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		require.NoError(t, restored.Run(ctx, messaging.NewSliceSource(envs...)))

		assert.Equal(t, live.Snapshot(), restored.Snapshot())
		assert.Len(t, restored.Trades(), 1)
		assert.True(t, restored.Holdings().AvailableCash.Equal(dec(940)))
		assert.True(t, restored.Holdings().SettledAssets["A"].Equal(dec(23)))
	})

	t.Run("resume after seq", func(t *testing.T) {
		restored, err := NewFromSnapshot(saved, WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		require.NoError(t, restored.Run(ctx, messaging.NewSliceSource(envs[saved.Seq:]...)))

		assert.Equal(t, live.Snapshot(), restored.Snapshot())
	})
}
