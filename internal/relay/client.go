// Package relay is a development signaling relay implementing the contract
// the client core depends on. It is a tool for running and testing clients
// locally, not part of the core.
package relay

import (
	"encoding/json"
	"errors"
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

// Client is one connected participant: its websocket, identity and current
// room.
type Client struct {
	id   domain.ParticipantID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu          sync.RWMutex
	displayName string
	room        domain.RoomID
	closed      bool
}

func newClient(id domain.ParticipantID, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *Client) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) sendEvent(event string, from domain.ParticipantID, v any) {
	env := core.Envelope{Event: event, From: from}
	if v != nil {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("marshal payload")
			return
		}
		env.Payload = payload
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal envelope")
		return
	}
	if err := c.trySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("participant", string(c.id)).Msg("send dropped")
	}
}

func (c *Client) sendError(code, msg string) {
	c.sendEvent(core.EventError, "", core.ErrorPayload{Code: code, Message: msg})
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *Client) currentRoom() domain.RoomID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(r domain.RoomID) {
	c.mu.Lock()
	c.room = r
	c.mu.Unlock()
}

func (c *Client) name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

func (c *Client) setName(n string) {
	c.mu.Lock()
	c.displayName = n
	c.mu.Unlock()
}

func (c *Client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "relay").Str("participant", string(c.id)).Msg("write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		log.Info().Str("module", "relay").Str("participant", string(c.id)).Msg("client disconnected")
		c.hub.dropClient(c)
		c.close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.handle(c, data)
	}
}
