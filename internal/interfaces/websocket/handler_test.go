package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, zap.NewNop()).ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.GetClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestToWSMessage(t *testing.T) {
	tests := []struct {
		name     string
		event    eventbus.Event
		wantType MessageType
		wantConv string
	}{
		{"task", eventbus.NewEvent(eventbus.EventTaskTransition, service.TaskEvent{ConversationID: "c1", To: entity.TaskRunning}), MessageTypeTask, "c1"},
		{"message", eventbus.NewEvent(eventbus.EventMessageAppended, eventbus.MessagePayload{ConversationID: "c2"}), MessageTypeMessage, "c2"},
		{"conversation", eventbus.NewEvent(eventbus.EventAIToggled, eventbus.ConversationPayload{ConversationID: "c3"}), MessageTypeConversation, "c3"},
		{"profile", eventbus.NewEvent(eventbus.EventProfileActivated, eventbus.ProfilePayload{ProfileID: "p1"}), MessageTypeProfile, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ToWSMessage(tt.event)
			if msg == nil || msg.Type != tt.wantType || msg.ConversationID != tt.wantConv {
				t.Errorf("ToWSMessage = %+v", msg)
			}
		})
	}

	if ToWSMessage(eventbus.NewEvent("other", 42)) != nil {
		t.Error("unknown payload should be dropped")
	}
}

func TestHub_RoutesByConversation(t *testing.T) {
	hub, srv := startHub(t)

	c1 := dial(t, srv, "conversation_id=c1")
	c2 := dial(t, srv, "conversation_id=c2")
	all := dial(t, srv, "")
	waitClients(t, hub, 3)

	hub.Deliver(&WSMessage{Type: MessageTypeMessage, ConversationID: "c2", Content: "for c2"})
	hub.Deliver(&WSMessage{Type: MessageTypeMessage, ConversationID: "c1", Content: "for c1"})

	if got := readMessage(t, c1); got.Content != "for c1" {
		t.Errorf("c1 received %q", got.Content)
	}
	if got := readMessage(t, c2); got.Content != "for c2" {
		t.Errorf("c2 received %q", got.Content)
	}
	first, second := readMessage(t, all), readMessage(t, all)
	if first.Content != "for c2" || second.Content != "for c1" {
		t.Errorf("operator client received %q, %q", first.Content, second.Content)
	}
}

func TestHub_PingAndInbound(t *testing.T) {
	hub, srv := startHub(t)

	received := make(chan *WSMessage, 1)
	hub.SetMessageHandler(func(client *Client, msg *WSMessage) { received <- msg })

	conn := dial(t, srv, "conversation_id=c9")
	waitClients(t, hub, 1)

	if err := conn.WriteJSON(WSMessage{Type: MessageTypePing}); err != nil {
		t.Fatal(err)
	}
	if got := readMessage(t, conn); got.Type != MessageTypePong {
		t.Errorf("expected pong, got %s", got.Type)
	}

	if err := conn.WriteJSON(WSMessage{Type: MessageTypeSend, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-received:
		if msg.ConversationID != "c9" || msg.Content != "hi" {
			t.Errorf("inbound = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message not handled")
	}
}

func TestHub_AttachForwardsBusEvents(t *testing.T) {
	hub, srv := startHub(t)
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()
	hub.Attach(bus)

	conn := dial(t, srv, "conversation_id=c1")
	waitClients(t, hub, 1)

	bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventTaskTransition,
		service.TaskEvent{TaskID: "t1", ConversationID: "c1", To: entity.TaskCompleted}))

	got := readMessage(t, conn)
	if got.Type != MessageTypeTask || got.Event != eventbus.EventTaskTransition {
		t.Fatalf("got %+v", got)
	}
	raw, _ := json.Marshal(got.Data)
	var ev service.TaskEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.TaskID != "t1" || ev.To != entity.TaskCompleted {
		t.Errorf("task payload = %s", raw)
	}
}

func TestHub_RequestedClientIDIgnored(t *testing.T) {
	hub, srv := startHub(t)

	first := dial(t, srv, "client_id=same")
	second := dial(t, srv, "client_id=same")
	waitClients(t, hub, 2)

	first.Close()
	waitClients(t, hub, 1)

	hub.Deliver(&WSMessage{Type: MessageTypeMessage, ConversationID: "c1", Content: "still here"})
	if got := readMessage(t, second); got.Content != "still here" {
		t.Errorf("surviving client received %q", got.Content)
	}
}
