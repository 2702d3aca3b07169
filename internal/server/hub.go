package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/contalink/bandeja/internal/domain"
	"github.com/contalink/bandeja/internal/pkg/validate"
	"github.com/contalink/bandeja/internal/protocol"
	"github.com/contalink/bandeja/internal/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// dbTimeout bounds the history writes done from the hub loop.
	dbTimeout = 5 * time.Second
)

// historyStore is the connection-history slice of the store.
type historyStore interface {
	UpsertConnection(ctx context.Context, user, machine string) error
	CloseConnection(ctx context.Context, user string) error
}

// notificationCreator persists records created over the websocket.
type notificationCreator interface {
	Create(ctx context.Context, n domain.Notification) (domain.Notification, error)
}

// Client represents one tray-client WebSocket connection. A connection is
// unidentified until a valid identificar message arrives, identified
// afterwards, and disconnected (terminal) once the socket closes.
type Client struct {
	conn       *websocket.Conn
	id         string // session id, assigned at connect
	user       string
	machine    string
	identified bool
	send       chan []byte
	hub        *Hub
}

// Hub owns the connected clients and applies the session lifecycle to the
// registry and the connection history.
type Hub struct {
	log      zerolog.Logger
	history  historyStore
	notifs   notificationCreator
	registry *registry.Registry

	// Clients by session id, for payload pushes.
	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan *clientMessage
}

type clientMessage struct {
	client  *Client
	message *protocol.Message
}

// NewHub creates a hub.
func NewHub(log zerolog.Logger, history historyStore, notifs notificationCreator, reg *registry.Registry) *Hub {
	return &Hub{
		log:        log.With().Str("component", "hub").Logger(),
		history:    history,
		notifs:     notifs,
		registry:   reg,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *clientMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.log.Debug().Str("session", client.id).Msg("client connected")

		case client := <-h.unregister:
			h.disconnect(client)

		case msg := <-h.inbound:
			h.handleMessage(msg.client, msg.message)
		}
	}
}

func (h *Hub) disconnect(client *Client) {
	h.mu.Lock()
	_, known := h.clients[client.id]
	if known {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()
	if !known {
		return
	}

	if client.identified {
		h.registry.Unregister(client.id)

		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()
		if err := h.history.CloseConnection(ctx, client.user); err != nil {
			h.log.Error().Err(err).Str("usuario", client.user).Msg("failed to close connection history")
		}
		h.log.Info().Str("usuario", client.user).Str("maquina", client.machine).Msg("client disconnected")
		return
	}
	h.log.Debug().Str("session", client.id).Msg("unidentified client disconnected")
}

func (h *Hub) handleMessage(client *Client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeIdentify:
		h.handleIdentify(client, msg)
	case protocol.TypeCreate:
		h.handleCreate(client, msg)
	default:
		h.log.Warn().Str("type", msg.Type).Str("session", client.id).Msg("unknown message type")
	}
}

// handleIdentify transitions a connection to identified, registers it and
// opens its connection-history row. A payload missing identity fields is
// rejected without any state change.
func (h *Hub) handleIdentify(client *Client, msg *protocol.Message) {
	var payload protocol.IdentifyPayload
	if err := msg.ParsePayload(&payload); err != nil {
		h.log.Error().Err(err).Str("session", client.id).Msg("failed to parse identify payload")
		h.ack(client, protocol.AckPayload{Status: "error", Error: "invalid identify payload"})
		return
	}
	if err := validate.Struct(payload); err != nil {
		h.log.Warn().Err(err).Str("session", client.id).Msg("rejected identify with missing fields")
		h.ack(client, protocol.AckPayload{Status: "error", Error: err.Error()})
		return
	}

	client.user = payload.User
	client.machine = payload.Machine
	client.identified = true
	h.registry.Register(client.id, payload.User, payload.Machine)

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := h.history.UpsertConnection(ctx, payload.User, payload.Machine); err != nil {
		h.log.Error().Err(err).Str("usuario", payload.User).Msg("failed to save connection history")
	}

	h.log.Info().Str("usuario", payload.User).Str("maquina", payload.Machine).Msg("client identified")
	h.ack(client, protocol.AckPayload{Status: "ok"})
}

// handleCreate persists a notification record sent over the websocket. An
// imediata record aimed at a user requires that user to be online; otherwise
// nothing is saved.
func (h *Hub) handleCreate(client *Client, msg *protocol.Message) {
	var payload protocol.CreatePayload
	if err := msg.ParsePayload(&payload); err != nil {
		h.log.Error().Err(err).Str("session", client.id).Msg("failed to parse create payload")
		h.ack(client, protocol.AckPayload{Status: "error", Error: "invalid payload"})
		return
	}
	if err := validate.Struct(payload); err != nil {
		h.ack(client, protocol.AckPayload{Status: "error", Error: err.Error()})
		return
	}
	kind := domain.Kind(payload.Kind)
	if !kind.Valid() {
		h.ack(client, protocol.AckPayload{Status: "error", Error: fmt.Sprintf("unknown tipo %q", payload.Kind)})
		return
	}

	if kind == domain.KindImmediate && payload.User != "" {
		if _, ok := h.registry.FindByUser(payload.User); !ok {
			h.log.Warn().Str("usuario", payload.User).Msg("target user offline, notification not saved")
			h.ack(client, protocol.AckPayload{Status: "error", Error: fmt.Sprintf("usuário %s não conectado", payload.User)})
			return
		}
	}

	scheduledAt := time.Now()
	if payload.At != "" {
		t, err := time.Parse(time.RFC3339, payload.At)
		if err != nil {
			h.ack(client, protocol.AckPayload{Status: "error", Error: "invalid horario"})
			return
		}
		scheduledAt = t
	}

	record := domain.Notification{
		Kind:            kind,
		Title:           payload.Title,
		Body:            payload.Body,
		Link:            payload.Link,
		Icon:            payload.Icon,
		User:            payload.User,
		Sectors:         payload.Sectors,
		ScheduledAt:     &scheduledAt,
		Active:          true,
		MaxRepeats:      payload.Repeats,
		IntervalMinutes: payload.Interval,
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	created, err := h.notifs.Create(ctx, record)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to save notification")
		h.ack(client, protocol.AckPayload{Status: "error", Error: "failed to save notification"})
		return
	}

	h.log.Info().Int64("id", created.ID).Str("tipo", string(created.Kind)).Msg("notification saved, delivery handled by scheduler")
	h.ack(client, protocol.AckPayload{Status: "ok", ID: created.ID})
}

func (h *Hub) ack(client *Client, payload protocol.AckPayload) {
	msg, err := protocol.NewMessage(protocol.TypeAck, payload)
	if err != nil {
		return
	}
	if err := h.Push(client.id, msg); err != nil {
		h.log.Debug().Err(err).Str("session", client.id).Msg("failed to send ack")
	}
}

// Push delivers a message to one session. It implements dispatch.Pusher and
// never blocks: a gone session or a full send buffer is an error for that
// recipient only.
func (h *Hub) Push(sessionID string, msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// The read lock is held across the send: disconnect closes client.send
	// under the write lock, so the channel cannot close between the lookup
	// and the send. The send itself never blocks.
	h.mu.RLock()
	defer h.mu.RUnlock()
	client := h.clients[sessionID]
	if client == nil {
		return fmt.Errorf("session %s no longer connected", sessionID)
	}

	select {
	case client.send <- data:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", sessionID)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Str("session", c.id).Msg("read error")
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Warn().Err(err).Str("session", c.id).Msg("failed to parse message")
			continue
		}
		c.hub.inbound <- &clientMessage{client: c, message: &msg}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
