package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/petlibro-bridge/internal/host"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/config"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub(t)

	client := newWSClient(hub, nil, nil)
	client.subscribe([]string{host.EventStateChanged})
	hub.Register(client)

	hub.Broadcast(host.EventStateChanged, map[string]any{"entity_id": "e-1", "value": true})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != host.EventStateChanged {
			t.Errorf("message = %s/%s, want event/entity.state_changed", wsMsg.Type, wsMsg.EventType)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)

	client := newWSClient(hub, nil, nil)
	client.subscribe([]string{host.EventRegistered})
	hub.Register(client)

	hub.Broadcast(host.EventStateChanged, map[string]any{"entity_id": "e-1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}
	client := newWSClient(hub, nil, nil)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not double-close send
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	if !client.enqueue([]byte("{}")) {
		t.Error("enqueue on a closed client reported a full queue")
	}
}

func TestHub_FullQueueDropsEvent(t *testing.T) {
	hub := testHub(t)
	client := newWSClient(hub, nil, nil)
	client.subscribe([]string{host.EventStateChanged})
	hub.Register(client)

	for i := 0; i < wsSendBufferSize; i++ {
		if !client.enqueue([]byte("{}")) {
			t.Fatalf("enqueue %d reported a full queue", i)
		}
	}
	if client.enqueue([]byte("{}")) {
		t.Error("enqueue on a full queue succeeded")
	}
	hub.Broadcast(host.EventStateChanged, map[string]any{"entity_id": "e-1"})
	if got := len(client.send); got != wsSendBufferSize {
		t.Errorf("queue length = %d, want %d", got, wsSendBufferSize)
	}
}

func TestHub_RegisterAfterShutdownClosesClient(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	client := newWSClient(hub, nil, nil)
	hub.Register(client)
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send queue still open after shutdown")
	}
}

// dialWS connects to the fixture's router over a real listener.
func dialWS(t *testing.T, f *fixture, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestWebSocket_ChannelsQuerySubscribes(t *testing.T) {
	f := testServer(t, "")
	conn := dialWS(t, f, "?channels="+host.EventStateChanged)
	waitForClients(t, f.srv.Hub(), 1)

	f.srv.Hub().Broadcast(host.EventStateChanged, map[string]any{"entity_id": "e-1", "characteristic": "on", "value": true})

	msg := readMessage(t, conn)
	if msg.EventType != host.EventStateChanged {
		t.Errorf("event_type = %q, want entity.state_changed", msg.EventType)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok || payload["entity_id"] != "e-1" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestWebSocket_SubscribeMessage(t *testing.T) {
	f := testServer(t, "")
	conn := dialWS(t, f, "")
	waitForClients(t, f.srv.Hub(), 1)

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{host.EventRegistered}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if ack := readMessage(t, conn); ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v, want response to 1", ack)
	}

	f.srv.Hub().Broadcast(host.EventRegistered, map[string]any{"id": "e-2"})
	if msg := readMessage(t, conn); msg.EventType != host.EventRegistered {
		t.Errorf("event_type = %q, want entity.registered", msg.EventType)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "2"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if pong := readMessage(t, conn); pong.Type != WSTypePong || pong.ID != "2" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestWebSocket_RejectsUnknownChannels(t *testing.T) {
	f := testServer(t, "")
	ts := httptest.NewServer(f.router)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?channels=" + host.EventRegistered + ",devices"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial with an unknown channel succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}

	conn := dialWS(t, f, "")
	waitForClients(t, f.srv.Hub(), 1)
	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"entity.*"}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if reply := readMessage(t, conn); reply.Type != WSTypeError || reply.ID != "1" {
		t.Errorf("reply = %+v, want error for 1", reply)
	}
}

func TestWebSocket_EntitiesRequest(t *testing.T) {
	f := testServer(t, "")
	conn := dialWS(t, f, "")
	waitForClients(t, f.srv.Hub(), 1)

	if err := conn.WriteJSON(WSMessage{Type: WSTypeEntities, ID: "e"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	reply := readMessage(t, conn)
	if reply.Type != WSTypeResponse || reply.ID != "e" {
		t.Fatalf("reply = %+v, want response for e", reply)
	}
	payload, _ := reply.Payload.(map[string]any)
	entities, _ := payload["entities"].([]any)
	if len(entities) != 2 {
		t.Errorf("entities = %v, want 2", payload["entities"])
	}
}

func TestWebSocket_SetRequestFeeds(t *testing.T) {
	tests := []struct {
		name      string
		payload   WSSetPayload
		wantType  string
		wantFeeds int
	}{
		{
			name:      "feed",
			payload:   WSSetPayload{Characteristic: "on", Value: json.RawMessage(`true`)},
			wantType:  WSTypeResponse,
			wantFeeds: 1,
		},
		{
			name:     "not a boolean",
			payload:  WSSetPayload{Characteristic: "on", Value: json.RawMessage(`"maybe"`)},
			wantType: WSTypeError,
		},
		{
			name:     "missing value",
			payload:  WSSetPayload{Characteristic: "on"},
			wantType: WSTypeError,
		},
		{
			name:     "unknown characteristic",
			payload:  WSSetPayload{Characteristic: "portions", Value: json.RawMessage(`2`)},
			wantType: WSTypeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testServer(t, "")
			conn := dialWS(t, f, "")
			waitForClients(t, f.srv.Hub(), 1)

			tt.payload.EntityID = f.feeder.Entity.ID
			if err := conn.WriteJSON(WSMessage{Type: WSTypeSet, ID: "s", Payload: tt.payload}); err != nil {
				t.Fatalf("WriteJSON: %v", err)
			}
			reply := readMessage(t, conn)
			if reply.Type != tt.wantType || reply.ID != "s" {
				t.Errorf("reply = %+v, want %s for s", reply, tt.wantType)
			}
			if got := f.vendor.feedCount(); got != tt.wantFeeds {
				t.Errorf("feeds = %d, want %d", got, tt.wantFeeds)
			}
		})
	}
}

func TestWebSocket_RequiresTokenWhenAuthEnabled(t *testing.T) {
	f := testServer(t, testSecret)
	ts := httptest.NewServer(f.router)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	token, err := IssueToken(testSecret, "panel", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url+"?access_token="+token, nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}

func TestNewHub_Defaults(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	if hub.cfg.PingInterval != defaultPingInterval || hub.cfg.PongTimeout != defaultPongTimeout {
		t.Errorf("keepalive = %d/%d, want %d/%d", hub.cfg.PingInterval, hub.cfg.PongTimeout, defaultPingInterval, defaultPongTimeout)
	}
	if hub.cfg.MaxMessageSize != defaultMaxMessageSize {
		t.Errorf("MaxMessageSize = %d, want %d", hub.cfg.MaxMessageSize, defaultMaxMessageSize)
	}
}
