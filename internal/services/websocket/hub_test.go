package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"maskserver/internal/config"
	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/models"
)

func newTestHub(t *testing.T) *HubService {
	t.Helper()
	cfg := &config.Config{LogDirectory: t.TempDir()}
	hub := NewHubService(logger.NewLogger(cfg), metrics.New())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receiveEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case message := <-client.Receive():
		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case message := <-client.Receive():
		t.Fatalf("Expected no event, got %s", message)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitForCount(t *testing.T, hub *HubService, expected int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount() == expected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected connection count %d, got %d", expected, hub.ConnectionCount())
}

func TestHub_SubscribeDeliversConnectionEstablished(t *testing.T) {
	hub := newTestHub(t)
	client := hub.Subscribe()
	defer hub.Unsubscribe(client)

	event := receiveEvent(t, client)
	if event.Type != EventConnectionEstablished {
		t.Errorf("Expected %s, got %s", EventConnectionEstablished, event.Type)
	}
	if event.Message == "" {
		t.Error("connection_established should carry a message")
	}

	waitForCount(t, hub, 1)
}

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := newTestHub(t)

	clients := []*Client{hub.Subscribe(), hub.Subscribe(), hub.Subscribe()}
	for _, c := range clients {
		receiveEvent(t, c) // drain welcome
	}

	hub.BroadcastStatistics(models.Statistics{TotalDetections: 7})

	for i, c := range clients {
		event := receiveEvent(t, c)
		if event.Type != EventStatisticsUpdate {
			t.Errorf("client %d: expected %s, got %s", i, EventStatisticsUpdate, event.Type)
		}
	}
}

func TestHub_PublishPrunesDeadSubscriber(t *testing.T) {
	hub := newTestHub(t)

	alive1 := hub.Subscribe()
	alive2 := hub.Subscribe()
	dead := hub.Subscribe()
	for _, c := range []*Client{alive1, alive2, dead} {
		receiveEvent(t, c)
	}
	waitForCount(t, hub, 3)

	dead.Close()
	hub.BroadcastDetections([]models.Detection{{ID: "d1"}})

	// The two live subscribers receive the event; the dead one is removed
	// without aborting delivery.
	for i, c := range []*Client{alive1, alive2} {
		event := receiveEvent(t, c)
		if event.Type != EventDetectionUpdate {
			t.Errorf("client %d: expected %s, got %s", i, EventDetectionUpdate, event.Type)
		}
	}
	waitForCount(t, hub, 2)
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	hub := newTestHub(t)

	client := hub.Subscribe()
	receiveEvent(t, client)
	waitForCount(t, hub, 1)

	hub.Unsubscribe(client)
	hub.Unsubscribe(client)
	waitForCount(t, hub, 0)
}

func TestHub_HandleInbound_Ping(t *testing.T) {
	hub := newTestHub(t)
	client := hub.Subscribe()
	defer hub.Unsubscribe(client)
	receiveEvent(t, client)

	hub.HandleInbound(client, []byte(`{"type":"ping"}`))

	event := receiveEvent(t, client)
	if event.Type != EventPong {
		t.Errorf("Expected %s, got %s", EventPong, event.Type)
	}
}

func TestHub_HandleInbound_IgnoresUnknown(t *testing.T) {
	hub := newTestHub(t)
	client := hub.Subscribe()
	defer hub.Unsubscribe(client)
	receiveEvent(t, client)

	hub.HandleInbound(client, []byte(`{"type":"subscribe_all"}`))
	hub.HandleInbound(client, []byte(`not json at all`))

	expectNoEvent(t, client)
}

func TestHub_AlertEventShape(t *testing.T) {
	hub := newTestHub(t)
	client := hub.Subscribe()
	defer hub.Unsubscribe(client)
	receiveEvent(t, client)

	det := models.Detection{ID: "abc", HasMask: false, Confidence: 0.95, AlertTriggered: true}
	hub.BroadcastAlert("Mask violation detected with 0.95 confidence", det)

	select {
	case message := <-client.Receive():
		var event struct {
			Type string       `json:"type"`
			Data AlertPayload `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			t.Fatalf("Failed to unmarshal alert: %v", err)
		}
		if event.Type != EventAlertTriggered {
			t.Errorf("Expected %s, got %s", EventAlertTriggered, event.Type)
		}
		if event.Data.Message == "" || event.Data.Detection.ID != "abc" {
			t.Errorf("Unexpected alert payload: %+v", event.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for alert")
	}
}
