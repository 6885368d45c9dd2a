// Package gateway turns the viewer's order actions into outbound requests.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/erain9/marketreplica/pkg/otel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request would exceed the configured rate
var ErrRateLimited = errors.New("rate limited")

// Option configures a Gateway
type Option func(*Gateway)

// WithRateLimit allows rps requests per second with the given burst. A zero
// rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metric instruments
func WithMetrics(m *otel.ReplicaMetrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Gateway sends the viewer's requests to the matching engine. Requests are
// forwarded as is: the engine is the only place they are validated.
type Gateway struct {
	sender  messaging.RequestSender
	pcode   string
	limiter *rate.Limiter
	logger  zerolog.Logger
	metrics *otel.ReplicaMetrics
}

// New creates a gateway sending on behalf of pcode
func New(sender messaging.RequestSender, pcode string, opts ...Option) *Gateway {
	g := &Gateway{
		sender: sender,
		pcode:  pcode,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "gateway").Str("pcode", pcode).Logger()
	return g
}

// Enter asks the engine to enter a new order
func (g *Gateway) Enter(ctx context.Context, price, volume int64, isBid bool, asset string) error {
	env, err := messaging.NewEnterRequest(messaging.EnterRequest{
		Price:     price,
		Volume:    volume,
		IsBid:     isBid,
		PCode:     g.pcode,
		AssetName: asset,
	})
	if err != nil {
		return err
	}
	return g.send(ctx, env,
		attribute.Int64(otel.AttributeOrderPrice, price),
		attribute.Int64(otel.AttributeOrderVolume, volume),
		attribute.String(otel.AttributeOrderSide, core.SideOf(isBid).String()),
	)
}

// Cancel asks the engine to cancel a resting order
func (g *Gateway) Cancel(ctx context.Context, order core.Order) error {
	env, err := messaging.NewCancelRequest(order)
	if err != nil {
		return err
	}
	return g.send(ctx, env, attribute.Int64(otel.AttributeOrderID, order.OrderID))
}

// AcceptImmediate asks the engine to trade against a resting order right away
func (g *Gateway) AcceptImmediate(ctx context.Context, order core.Order) error {
	env, err := messaging.NewAcceptImmediateRequest(order)
	if err != nil {
		return err
	}
	return g.send(ctx, env, attribute.Int64(otel.AttributeOrderID, order.OrderID))
}

func (g *Gateway) send(ctx context.Context, env messaging.Envelope, attrs ...attribute.KeyValue) (err error) {
	ctx, span := otel.StartRequestSpan(ctx, env.Type, attrs...)
	defer func() {
		otel.EndSpan(span, err)
		g.metrics.IncRequests(ctx, env.Type, err != nil)
	}()

	if g.limiter != nil && !g.limiter.Allow() {
		return fmt.Errorf("%s: %w", env.Type, ErrRateLimited)
	}

	if err := g.sender.Send(ctx, env); err != nil {
		g.logger.Error().Err(err).Str("type", env.Type).Msg("Failed to send request")
		return err
	}
	g.logger.Debug().Str("type", env.Type).Msg("Request sent")
	return nil
}
