package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/erain9/marketreplica/pkg/replica"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	feedBuffer    = 64
	feedWriteWait = 5 * time.Second
)

// Feed pushes replica notifications to websocket subscribers as envelopes.
// A subscriber that falls feedBuffer messages behind is disconnected.
type Feed struct {
	pcode    string
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[chan messaging.Envelope]struct{}
	closed  bool
}

// NewFeed creates a feed for the viewer pcode. Register it with
// Replicator.Subscribe to start receiving notifications.
func NewFeed(pcode string, logger zerolog.Logger) *Feed {
	return &Feed{
		pcode:   pcode,
		logger:  logger.With().Str("component", "feed").Logger(),
		clients: make(map[chan messaging.Envelope]struct{}),
	}
}

// Notify implements replica.Notifier
func (f *Feed) Notify(n replica.Notification) {
	env, err := messaging.NewEventEnvelope(f.event(n))
	if err != nil {
		f.logger.Error().Err(err).Str("kind", n.Kind.String()).Msg("Failed to encode notification")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.clients {
		select {
		case ch <- env:
		default:
			f.logger.Warn().Msg("Dropping slow feed subscriber")
			delete(f.clients, ch)
			close(ch)
		}
	}
}

func (f *Feed) event(n replica.Notification) messaging.Event {
	switch n.Kind {
	case messaging.KindOrderEntered:
		return messaging.OrderEntered{Order: n.Order}
	case messaging.KindOrderCanceled:
		return messaging.OrderCanceled{Order: n.Order}
	case messaging.KindTrade:
		return messaging.TradeConfirmed{Trade: n.Trade}
	case messaging.KindError:
		return messaging.RemoteError{Err: core.RemoteError{PCode: f.pcode, Message: n.Message}}
	default:
		return nil
	}
}

// Subscribers returns the number of connected subscribers
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) subscribe() (chan messaging.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	ch := make(chan messaging.Envelope, feedBuffer)
	f.clients[ch] = struct{}{}
	return ch, true
}

func (f *Feed) unsubscribe(ch chan messaging.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[ch]; ok {
		delete(f.clients, ch)
		close(ch)
	}
}

// Close disconnects every subscriber and refuses new ones
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.clients {
		delete(f.clients, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the request and streams envelopes until the client
// goes away or the feed closes
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := f.subscribe()
	if !ok {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.unsubscribe(ch)
		f.logger.Warn().Err(err).Msg("Feed upgrade failed")
		return
	}
	defer conn.Close()
	defer f.unsubscribe(ch)

	// Reads only serve to notice the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case env, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(feedWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				f.logger.Debug().Err(err).Msg("Feed write failed")
				return
			}
		}
	}
}
