// Package websocket pushes intake workflow events to connected clients.
// Clients subscribe to topics (one per intake session, plus "dashboard") and
// receive every event published on them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan/internal/platform/events"
)

// ClientMessage is an inbound subscription change from a client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is a single websocket connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		h.addLocked(topic, client)
	}
	client.Topics = append(client.Topics, topics...)
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		drop[topic] = struct{}{}
		h.removeLocked(topic, client)
	}

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, ok := drop[t]; !ok {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	subscribers, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, topic)
	}
}

// ProcessMessage applies a subscribe or unsubscribe request.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends an event to the clients subscribed to topic. Slow clients
// with a full buffer miss the event rather than block the publisher.
func (h *Hub) Broadcast(topic string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", event.Type).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
}

// Publish implements events.Publisher. Session workflow events are echoed to
// the dashboard topic without their payload, which may reference the
// operator's images.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	h.Broadcast(event.Topic(), event)
	if event.SessionID != "" && event.Type != events.TypeExtractionProgress {
		summary := event
		summary.Data = nil
		h.Broadcast(events.DashboardTopic, summary)
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TopicAuthorizer reports whether the operator on ctx may follow topic.
type TopicAuthorizer func(ctx context.Context, topic string) bool

// DashboardOnly allows the shared dashboard topic and nothing else.
func DashboardOnly(_ context.Context, topic string) bool {
	return topic == events.DashboardTopic
}

// Handler upgrades HTTP connections and pumps hub events to them.
type Handler struct {
	hub       *Hub
	authorize TopicAuthorizer
}

// NewHandler builds the upgrade handler. A nil authorize falls back to
// DashboardOnly.
func NewHandler(hub *Hub, authorize TopicAuthorizer) *Handler {
	if authorize == nil {
		authorize = DashboardOnly
	}
	return &Handler{hub: hub, authorize: authorize}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect accepts ?topics=intake:<id>,dashboard for the initial
// subscription; further changes arrive as ClientMessage frames. A topic the
// operator may not follow rejects the upgrade with 403.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	// The connection outlives the request, but keeps its operator identity.
	ctx := context.WithoutCancel(c.Request().Context())

	topics := parseTopics(c.QueryParam("topics"))
	for _, topic := range topics {
		if !wsh.authorize(ctx, topic) {
			return echo.NewHTTPError(http.StatusForbidden, "not allowed to subscribe to "+topic)
		}
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		Topics: topics,
		Send:   make(chan []byte, 64),
	}
	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(ctx, client, ws)
	return nil
}

// allowed drops the topics the operator may not follow.
func (wsh *Handler) allowed(ctx context.Context, client *Client, topics []string) []string {
	kept := topics[:0]
	for _, topic := range topics {
		if wsh.authorize(ctx, topic) {
			kept = append(kept, topic)
			continue
		}
		wsh.hub.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("subscription refused")
	}
	return kept
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

func (wsh *Handler) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Action == "subscribe" {
			msg.Topics = wsh.allowed(ctx, client, msg.Topics)
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
