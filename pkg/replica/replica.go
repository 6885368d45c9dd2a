package replica

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/erain9/marketreplica/pkg/otel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config seeds a Replicator. It is read once at construction.
type Config struct {
	// PCode is the viewer's participant code
	PCode string
	// Holdings are the viewer's starting balances
	Holdings core.Holdings
}

// Option configures a Replicator
type Option func(*Replicator)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Replicator) {
		r.logger = logger
	}
}

// WithMetrics sets the metric instruments
func WithMetrics(m *otel.ReplicaMetrics) Option {
	return func(r *Replicator) {
		r.metrics = m
	}
}

// WithStats sets the latency recorder
func WithStats(s *Stats) Option {
	return func(r *Replicator) {
		r.stats = s
	}
}

// Replicator keeps one participant's view of the market: both order books,
// the trade ledger and the viewer's holdings.
//
// Apply is meant to be driven by a single goroutine (normally Run) so that
// events take effect in arrival order. The read views are safe to call from
// any goroutine.
type Replicator struct {
	pcode string

	mu       sync.RWMutex
	bids     *core.OrderBook
	asks     *core.OrderBook
	trades   *core.TradeLedger
	holdings *core.HoldingsLedger
	seq      uint64

	subMu     sync.RWMutex
	notifiers []Notifier

	logger  zerolog.Logger
	metrics *otel.ReplicaMetrics
	stats   *Stats
}

// New creates an empty replica for cfg.PCode
func New(cfg Config, opts ...Option) (*Replicator, error) {
	if cfg.PCode == "" {
		return nil, fmt.Errorf("pcode is required: %w", core.ErrInvalidArgument)
	}

	r := &Replicator{
		pcode:    cfg.PCode,
		bids:     core.NewOrderBook(core.Buy),
		asks:     core.NewOrderBook(core.Sell),
		trades:   core.NewTradeLedger(),
		holdings: core.NewHoldingsLedger(cfg.Holdings),
		logger:   log.Logger,
		stats:    NewStats(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "replica").Str("pcode", r.pcode).Logger()
	return r, nil
}

// NewFromSnapshot creates a replica seeded with a previously captured state.
// Orders and trades are re-inserted so the sort invariants hold regardless of
// the snapshot's ordering.
func NewFromSnapshot(s core.Snapshot, opts ...Option) (*Replicator, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}

	r, err := New(Config{PCode: s.PCode, Holdings: s.Holdings}, opts...)
	if err != nil {
		return nil, err
	}
	r.seq = s.Seq
	for _, o := range s.Bids {
		r.bids.Insert(o)
	}
	for _, o := range s.Asks {
		r.asks.Insert(o)
	}
	for _, t := range s.Trades {
		r.trades.Insert(t)
	}
	return r, nil
}

// PCode returns the viewer's participant code
func (r *Replicator) PCode() string {
	return r.pcode
}

// Subscribe registers n for every future notification
func (r *Replicator) Subscribe(n Notifier) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.notifiers = append(r.notifiers, n)
}

// Stats returns the apply latency recorder
func (r *Replicator) Stats() *Stats {
	return r.stats
}

// HandleEnvelope decodes env and applies it. Decoding failures are
// *messaging.ProtocolViolationError and leave the replica untouched.
//
// A numbered envelope at or below Seq has already been applied, typically
// before the snapshot this replica was restored from, and is skipped.
func (r *Replicator) HandleEnvelope(ctx context.Context, env messaging.Envelope) error {
	if env.Seq != 0 {
		if last := r.Seq(); env.Seq <= last {
			r.logger.Debug().
				Uint64("seq", env.Seq).
				Uint64("applied_seq", last).
				Str("type", env.Type).
				Msg("Skipping envelope already applied")
			return nil
		}
	}

	ev, err := messaging.Decode(env)
	if err != nil {
		r.metrics.IncProtocolViolations(ctx, env.Type)
		return err
	}
	return r.apply(ctx, ev, env.Seq)
}

// Seq returns the stream position of the last numbered envelope applied
func (r *Replicator) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Run applies envelopes from src until the stream ends, ctx is canceled or a
// protocol violation occurs. Events rejected for other reasons are logged and
// skipped. A clean end of stream returns nil.
func (r *Replicator) Run(ctx context.Context, src messaging.EventSource) error {
	r.logger.Info().Msg("Replica started")

	for {
		env, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				r.logger.Info().Msg("Event stream ended")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, messaging.ErrProtocolViolation):
				r.metrics.IncProtocolViolations(ctx, "")
				r.logger.Error().Err(err).Msg("Protocol violation, halting session")
				return err
			default:
				return fmt.Errorf("event source: %w", err)
			}
		}

		if err := r.HandleEnvelope(ctx, env); err != nil {
			if errors.Is(err, messaging.ErrProtocolViolation) {
				r.logger.Error().Err(err).Str("type", env.Type).Msg("Protocol violation, halting session")
				return err
			}
			r.logger.Warn().Err(err).Str("type", env.Type).Msg("Event rejected")
		}
	}
}

// Apply applies one event. Rejected events leave all state untouched; a
// reference to an order missing from its book is logged and tolerated.
func (r *Replicator) Apply(ctx context.Context, ev messaging.Event) error {
	return r.apply(ctx, ev, 0)
}

// apply applies ev and, when seq is set, records it as consumed. Rejected
// events are consumed too, so replaying the stream skips them again.
func (r *Replicator) apply(ctx context.Context, ev messaging.Event, seq uint64) error {
	start := time.Now()
	kind := "unknown"
	if ev != nil {
		kind = ev.Kind().String()
	}
	ctx, span := otel.StartEventSpan(ctx, kind, attribute.String(otel.AttributePCode, r.pcode))

	var (
		notes []Notification
		err   error
	)

	r.mu.Lock()
	switch e := ev.(type) {
	case messaging.OrderEntered:
		notes, err = r.applyEntered(e.Order)
	case messaging.OrderCanceled:
		notes = r.applyCanceled(ctx, e.Order)
	case messaging.TradeConfirmed:
		notes, err = r.applyTrade(ctx, e.Trade)
	case messaging.RemoteError:
		notes = r.applyRemoteError(e.Err)
	default:
		err = &messaging.ProtocolViolationError{Type: fmt.Sprintf("%T", ev)}
	}
	if seq != 0 {
		r.seq = seq
	}
	r.mu.Unlock()

	otel.EndSpan(span, err)
	if err != nil {
		if errors.Is(err, messaging.ErrProtocolViolation) {
			r.metrics.IncProtocolViolations(ctx, kind)
		} else {
			r.metrics.IncRejected(ctx, kind)
		}
		return err
	}

	elapsed := time.Since(start)
	r.metrics.RecordEvent(ctx, kind, elapsed)
	if r.stats != nil {
		r.stats.Record(elapsed)
	}

	r.notify(notes)
	return nil
}

func (r *Replicator) book(isBid bool) *core.OrderBook {
	if isBid {
		return r.bids
	}
	return r.asks
}

func (r *Replicator) applyEntered(o core.Order) ([]Notification, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if r.bids.Contains(o.OrderID) || r.asks.Contains(o.OrderID) {
		return nil, fmt.Errorf("order %d: %w", o.OrderID, core.ErrOrderExists)
	}

	r.book(o.IsBid).Insert(o)
	if o.PCode == r.pcode {
		r.holdings.OnOwnOrderEntered(o)
	}

	r.logger.Debug().
		Int64("order_id", o.OrderID).
		Str("side", o.Side().String()).
		Int64("price", o.Price).
		Int64("volume", o.Volume).
		Msg("Order entered")
	return []Notification{{Kind: messaging.KindOrderEntered, Order: o}}, nil
}

// applyCanceled only releases the viewer's reservation for an order that was
// actually resting. A cancel for an unknown id changes nothing.
func (r *Replicator) applyCanceled(ctx context.Context, o core.Order) []Notification {
	if _, err := r.book(o.IsBid).Remove(o.OrderID); err != nil {
		r.staleReference(ctx, messaging.KindOrderCanceled, err)
		return nil
	}
	if o.PCode == r.pcode {
		r.holdings.OnOwnOrderCanceled(o)
	}

	r.logger.Debug().Int64("order_id", o.OrderID).Msg("Order canceled")
	return []Notification{{Kind: messaging.KindOrderCanceled, Order: o}}
}

// applyTrade books each maker leg at the maker's price. The taker's update
// repeats once per leg, and a maker leaves its book entirely even when
// partially filled; the engine re-confirms any residual as a new order.
func (r *Replicator) applyTrade(ctx context.Context, t core.Trade) ([]Notification, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	otel.AddAttributes(trace.SpanFromContext(ctx), attribute.Int(otel.AttributeMakerCount, len(t.MakingOrders)))

	taker := t.TakingOrder
	for _, maker := range t.MakingOrders {
		if maker.PCode == r.pcode {
			r.holdings.OnTradeLeg(maker.Price, maker.TradedVolume, maker.IsBid, maker.AssetName)
		}
		if taker.PCode == r.pcode {
			r.holdings.OnTradeLeg(maker.Price, maker.TradedVolume, taker.IsBid, taker.AssetName)
		}
		if _, err := r.book(maker.IsBid).Remove(maker.OrderID); err != nil {
			r.staleReference(ctx, messaging.KindTrade, err)
		}
	}
	r.trades.Insert(t)

	r.logger.Debug().
		Float64("timestamp", t.Timestamp).
		Int("makers", len(t.MakingOrders)).
		Int64("volume", t.TradedVolume()).
		Msg("Trade confirmed")
	return []Notification{{Kind: messaging.KindTrade, Trade: t}}, nil
}

func (r *Replicator) applyRemoteError(e core.RemoteError) []Notification {
	if e.PCode != r.pcode {
		return nil
	}
	r.logger.Info().Str("message", e.Message).Msg("Engine reported an error")
	return []Notification{{Kind: messaging.KindError, Message: e.Message}}
}

func (r *Replicator) staleReference(ctx context.Context, kind messaging.EventKind, err error) {
	r.metrics.IncStaleReferences(ctx, kind.String())
	r.logger.Warn().Err(err).Str("event", kind.String()).Msg("Stale order reference")
}

func (r *Replicator) notify(notes []Notification) {
	if len(notes) == 0 {
		return
	}
	r.subMu.RLock()
	notifiers := r.notifiers
	r.subMu.RUnlock()

	for _, n := range notes {
		for _, sub := range notifiers {
			sub.Notify(n)
		}
	}
}

// Bids returns the bid book, best first
func (r *Replicator) Bids() []core.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bids.Orders()
}

// Asks returns the ask book, best first
func (r *Replicator) Asks() []core.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.asks.Orders()
}

// BestBid returns the highest-priority bid
func (r *Replicator) BestBid() (core.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bids.Best()
}

// BestAsk returns the highest-priority ask
func (r *Replicator) BestAsk() (core.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.asks.Best()
}

// Lookup finds a resting order on either side
func (r *Replicator) Lookup(orderID int64) (core.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, book := range []*core.OrderBook{r.bids, r.asks} {
		if o, ok := book.Find(orderID); ok {
			return o, true
		}
	}
	return core.Order{}, false
}

// Trades returns the trade ledger, oldest first
func (r *Replicator) Trades() []core.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trades.Trades()
}

// Holdings returns a copy of the viewer's holdings
func (r *Replicator) Holdings() core.Holdings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.holdings.Snapshot()
}

// Snapshot captures the whole replica consistently
func (r *Replicator) Snapshot() core.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return core.Snapshot{
		Seq:      r.seq,
		PCode:    r.pcode,
		Bids:     r.bids.Orders(),
		Asks:     r.asks.Orders(),
		Trades:   r.trades.Trades(),
		Holdings: r.holdings.Snapshot(),
	}
}
