package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan/internal/platform/events"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c-1", "intake:s-1")

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("intake:s-1") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount("intake:s-1"))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("intake:s-1") != 0 {
		t.Fatal("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	// Second unregister is a no-op.
	hub.Unregister(client)
}

func TestHub_PublishRoutesBySession(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	mine := newClient("c-1", "intake:s-1")
	other := newClient("c-2", "intake:s-2")
	dash := newClient("c-3", "dashboard")
	hub.Register(mine)
	hub.Register(other)
	hub.Register(dash)

	e := events.New(events.TypeExtractionProgress, "s-1", map[string]int{"progress": 60})
	if err := hub.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case raw := <-mine.Send:
		var got events.Event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != events.TypeExtractionProgress {
			t.Errorf("unexpected type %s", got.Type)
		}
	default:
		t.Fatal("expected subscriber to receive the event")
	}
	if len(other.Send) != 0 {
		t.Error("expected other session not to receive the event")
	}
	if len(dash.Send) != 0 {
		t.Error("expected progress ticks to stay off the dashboard topic")
	}

	_ = hub.Publish(context.Background(), events.New(events.TypePatientMatched, "s-1", nil))
	if len(dash.Send) != 1 {
		t.Error("expected workflow events on the dashboard topic")
	}
}

func TestHub_DashboardCopyOmitsPayload(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	owner := newClient("c-1", "intake:s-1")
	dash := newClient("c-2", events.DashboardTopic)
	hub.Register(owner)
	hub.Register(dash)

	e := events.New(events.TypeImageCaptured, "s-1", map[string]string{"source": "upload", "blob_id": "blob-123"})
	if err := hub.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var mine, shared events.Event
	json.Unmarshal(<-owner.Send, &mine)
	raw := <-dash.Send
	json.Unmarshal(raw, &shared)

	if !strings.Contains(string(mine.Data), "blob-123") {
		t.Errorf("expected the session topic to carry the payload, got %s", mine.Data)
	}
	if strings.Contains(string(raw), "blob-123") || len(shared.Data) != 0 {
		t.Errorf("expected the dashboard copy without payload, got %s", raw)
	}
	if shared.Type != events.TypeImageCaptured || shared.SessionID != "s-1" {
		t.Errorf("unexpected dashboard event %+v", shared)
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c-1")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"intake:a", "intake:b"}})
	if hub.TopicCount("intake:a") != 1 || hub.TopicCount("intake:b") != 1 {
		t.Fatal("expected subscriptions to both topics")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"intake:a"}})
	if hub.TopicCount("intake:a") != 0 {
		t.Error("expected intake:a to be removed")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "intake:b" {
		t.Errorf("unexpected remaining topics %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "bogus", Topics: []string{"x"}})
	if hub.TopicCount("x") != 0 {
		t.Error("expected unknown action to be ignored")
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{"intake:s"}, Send: make(chan []byte, 1)}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Broadcast("intake:s", events.New(events.TypeExtractionProgress, "s", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
}

func TestParseTopics(t *testing.T) {
	got := parseTopics(" intake:s-1, ,dashboard")
	if len(got) != 2 || got[0] != "intake:s-1" || got[1] != "dashboard" {
		t.Errorf("unexpected topics %v", got)
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = h.HandleConnect(c)
	if hub.ClientCount() != 0 {
		t.Error("expected no client for a plain HTTP request")
	}
}

// ownTopics lets a client follow the dashboard and session s-7 only.
func ownTopics(_ context.Context, topic string) bool {
	return topic == events.DashboardTopic || topic == "intake:s-7"
}

func TestHandler_RejectsForeignTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, ownTopics)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/ws?topics=dashboard,intake:s-8", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.HandleConnect(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if hub.ClientCount() != 0 {
		t.Error("expected no client to be registered")
	}
}

func TestDashboardOnly(t *testing.T) {
	if !DashboardOnly(context.Background(), events.DashboardTopic) {
		t.Error("expected the dashboard topic to be allowed")
	}
	if DashboardOnly(context.Background(), "intake:s-1") {
		t.Error("expected session topics to be refused")
	}
}

func TestHandler_FullUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, ownTopics).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topics=intake:s-7"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount("intake:s-7") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	_ = hub.Publish(context.Background(), events.New(events.TypeExtractionCompleted, "s-7", nil))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != events.TypeExtractionCompleted || got.SessionID != "s-7" {
		t.Errorf("unexpected event %+v", got)
	}

	// A later subscribe frame cannot reach another operator's session.
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"intake:s-8", "dashboard"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for hub.TopicCount(events.DashboardTopic) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(events.DashboardTopic) != 1 {
		t.Error("expected the dashboard subscription to be accepted")
	}
	if hub.TopicCount("intake:s-8") != 0 {
		t.Error("expected the foreign session subscription to be refused")
	}
}
