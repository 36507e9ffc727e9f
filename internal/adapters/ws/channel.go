// Package ws implements the client side of the signaling channel over a
// websocket: read/write pumps, event dispatch, and reconnection with bounded
// exponential backoff.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

type Channel struct {
	endpoint string
	token    string
	dial     Dialer
	backoff  Backoff

	mu        sync.RWMutex
	status    core.ChannelStatus
	statusFns []func(core.ChannelStatus)
	subs      map[string]map[int]core.Handler
	nextSub   int
	joined    map[domain.RoomID]core.SelfInfo
	conn      Conn
	lost      chan struct{}
	lastErr   error
	closed    bool

	send chan []byte
	done chan struct{}
}

type Option func(*Channel)

func WithDialer(d Dialer) Option   { return func(c *Channel) { c.dial = d } }
func WithBackoff(b Backoff) Option { return func(c *Channel) { c.backoff = b } }

func NewChannel(endpoint, token string, opts ...Option) *Channel {
	c := &Channel{
		endpoint: endpoint,
		token:    token,
		dial:     GorillaDialer,
		backoff:  DefaultBackoff(),
		status:   core.ChannelDisconnected,
		subs:     make(map[string]map[int]core.Handler),
		joined:   make(map[domain.RoomID]core.SelfInfo),
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials the relay, retrying with bounded backoff. On success a
// supervisor keeps the connection alive (and re-joins rooms) until Close or
// until the retry budget is spent.
func (c *Channel) Connect(ctx context.Context) error {
	if err := c.connectWithRetry(ctx); err != nil {
		return err
	}
	go c.supervise(ctx)
	return nil
}

func (c *Channel) connectWithRetry(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		c.setStatus(core.ChannelConnecting)
		err := c.connectOnce(ctx)
		if err == nil {
			c.setStatus(core.ChannelConnected)
			return nil
		}
		if errors.Is(err, domain.ErrAuthExpired) {
			c.setErr(err)
			return err
		}
		if c.backoff.Exhausted(attempt + 1) {
			c.setErr(fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, err))
			return domain.ErrSignalingUnavailable
		}
		delay := c.backoff.Delay(attempt)
		log.Warn().Err(err).Str("module", "ws").Int("attempt", attempt).Dur("delay", delay).Msg("dial failed, backing off")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return domain.ErrSignalingUnavailable
		case <-time.After(delay):
		}
	}
}

// connectOnce dials and starts the pumps; c.lost closes when the connection
// dies.
func (c *Channel) connectOnce(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, status, err := c.dial(ctx, c.endpoint, header)
	if err != nil {
		if status == http.StatusUnauthorized {
			return domain.ErrAuthExpired
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	lost := make(chan struct{})
	var lostOnce sync.Once
	markLost := func() {
		lostOnce.Do(func() {
			_ = conn.Close()
			close(lost)
		})
	}

	go c.writePump(conn, lost, markLost)
	go c.readPump(conn, markLost)

	c.mu.Lock()
	c.lost = lost
	c.mu.Unlock()

	log.Info().Str("module", "ws").Str("endpoint", c.endpoint).Msg("channel connected")
	return nil
}

func (c *Channel) supervise(ctx context.Context) {
	for {
		c.mu.RLock()
		lost := c.lost
		c.mu.RUnlock()
		if lost == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-lost:
		}

		if c.isClosed() {
			return
		}
		c.setStatus(core.ChannelDisconnected)
		log.Warn().Str("module", "ws").Msg("channel lost, reconnecting")

		if err := c.connectWithRetry(ctx); err != nil {
			c.setStatus(core.ChannelErrored)
			log.Error().Err(err).Str("module", "ws").Msg("reconnect gave up")
			return
		}
		c.rejoinAll()
	}
}

// rejoinAll replays join-room for every room joined before the drop; the
// relay treats a repeat join from the same connection identity as a no-op.
func (c *Channel) rejoinAll() {
	c.mu.RLock()
	joined := make(map[domain.RoomID]core.SelfInfo, len(c.joined))
	for k, v := range c.joined {
		joined[k] = v
	}
	c.mu.RUnlock()
	for room, self := range joined {
		c.emitJoin(room, self)
	}
}

func (c *Channel) writePump(conn Conn, lost chan struct{}, markLost func()) {
	for {
		select {
		case <-c.done:
			return
		case <-lost:
			return
		case data := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				markLost()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				markLost()
				return
			}
		}
	}
}

func (c *Channel) readPump(conn Conn, markLost func()) {
	defer markLost()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Warn().Err(err).Str("module", "ws").Msg("readPump read error")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad envelope")
		return
	}

	if env.Event == core.EventError {
		var p core.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.Code == core.ErrorCodeAuthExpired {
			c.setErr(domain.ErrAuthExpired)
			c.setStatus(core.ChannelErrored)
		}
	}

	c.mu.RLock()
	handlers := make([]core.Handler, 0, len(c.subs[env.Event]))
	for _, h := range c.subs[env.Event] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(env.From, env.Payload)
	}
}

// JoinRoom is idempotent per room; a repeat call before LeaveRoom emits
// nothing, so the relay never sees duplicate membership.
func (c *Channel) JoinRoom(room domain.RoomID, self core.SelfInfo) error {
	c.mu.Lock()
	if _, ok := c.joined[room]; ok {
		c.mu.Unlock()
		return nil
	}
	c.joined[room] = self
	c.mu.Unlock()
	return c.emitJoin(room, self)
}

func (c *Channel) emitJoin(room domain.RoomID, self core.SelfInfo) error {
	return c.Emit(core.EventJoinRoom, core.JoinRoomPayload{Room: room, DisplayName: self.DisplayName})
}

func (c *Channel) LeaveRoom(room domain.RoomID) {
	c.mu.Lock()
	delete(c.joined, room)
	c.mu.Unlock()
	_ = c.Emit(core.EventLeaveRoom, core.LeaveRoomPayload{Room: room})
}

// Emit is fire-and-forget; delivery is best-effort and never acknowledged.
func (c *Channel) Emit(event string, v any) error {
	return c.trySend(core.Envelope{Event: event}, v)
}

func (c *Channel) EmitTo(event string, to domain.ParticipantID, v any) error {
	return c.trySend(core.Envelope{Event: event, To: to}, v)
}

func (c *Channel) trySend(env core.Envelope, v any) error {
	if c.isClosed() {
		return domain.ErrSignalingUnavailable
	}
	if v != nil {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		env.Payload = payload
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Channel) Subscribe(event string, h core.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[event] == nil {
		c.subs[event] = make(map[int]core.Handler)
	}
	id := c.nextSub
	c.nextSub++
	c.subs[event][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[event], id)
	}
}

func (c *Channel) Status() core.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Err returns the terminal error after Status reports ChannelErrored.
func (c *Channel) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Channel) OnStatus(fn func(core.ChannelStatus)) {
	c.mu.Lock()
	c.statusFns = append(c.statusFns, fn)
	c.mu.Unlock()
}

func (c *Channel) setStatus(s core.ChannelStatus) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	fns := append([]func(core.ChannelStatus){}, c.statusFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Channel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		_ = conn.Close()
	}
	c.setStatus(core.ChannelDisconnected)
	log.Info().Str("module", "ws").Msg("channel closed")
}

var _ core.SignalChannel = (*Channel)(nil)
