package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/erain9/marketreplica/pkg/messaging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type frame struct {
	env messaging.Envelope
	err error
}

// Session is one participant's websocket channel to the matching engine.
// It is an event source for inbound envelopes and a request sender for
// outbound ones.
type Session struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
	frames  chan frame
	done    chan struct{}
	once    sync.Once
}

// Dial connects to url and starts the read and keepalive pumps.
func Dial(ctx context.Context, url string, header http.Header, logger zerolog.Logger) (*Session, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return newSession(conn, logger), nil
}

func newSession(conn *websocket.Conn, logger zerolog.Logger) *Session {
	s := &Session{
		conn:   conn,
		logger: logger.With().Str("component", "ws_session").Str("remote", conn.RemoteAddr().String()).Logger(),
		frames: make(chan frame, 256),
		done:   make(chan struct{}),
	}
	go s.readPump()
	go s.pingPump()
	return s
}

func (s *Session) readPump() {
	defer close(s.frames)

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.closed() {
				s.deliver(frame{err: io.EOF})
				return
			}
			s.logger.Warn().Err(err).Msg("Websocket read failed")
			s.deliver(frame{err: fmt.Errorf("websocket read: %w", err)})
			return
		}

		var env messaging.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.deliver(frame{err: &messaging.ProtocolViolationError{Type: "<undecodable>", Err: err}})
			continue
		}
		if !s.deliver(frame{env: env}) {
			return
		}
	}
}

func (s *Session) deliver(f frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

// Next returns the next inbound envelope. It returns io.EOF once the engine
// closes the channel normally or the session is closed.
func (s *Session) Next(ctx context.Context) (messaging.Envelope, error) {
	select {
	case <-ctx.Done():
		return messaging.Envelope{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return messaging.Envelope{}, io.EOF
		}
		return f.env, f.err
	}
}

// Send writes env as one text frame
func (s *Session) Send(ctx context.Context, env messaging.Envelope) error {
	if s.closed() {
		return ErrSessionClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", env.Type, err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a close frame and tears the connection down
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ErrSessionClosed is returned by Send after Close
var ErrSessionClosed = errors.New("websocket session closed")

var (
	_ messaging.EventSource   = (*Session)(nil)
	_ messaging.RequestSender = (*Session)(nil)
)
