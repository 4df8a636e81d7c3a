package mqtt

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_Command(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, testLogger())

	orderID := int64(42)
	d.Command("BIKE-001", "unlock", &orderID)

	if len(pub.topics) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.topics))
	}
	if pub.topics[0] != "server/BIKE-001/command" {
		t.Errorf("unexpected topic %q", pub.topics[0])
	}

	var msg struct {
		Action    string `json:"action"`
		OrderID   *int64 `json:"order_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if msg.Action != "unlock" {
		t.Errorf("expected action unlock, got %q", msg.Action)
	}
	if msg.OrderID == nil || *msg.OrderID != 42 {
		t.Errorf("expected order_id 42, got %v", msg.OrderID)
	}
	if msg.Timestamp == "" {
		t.Error("expected timestamp to be set")
	}
}

func TestDispatcher_CommandWithoutOrder(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, testLogger())

	d.Command("BIKE-001", "force_lock", nil)

	var msg map[string]any
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	// order_id is always present on commands, null when no session exists
	if v, ok := msg["order_id"]; !ok || v != nil {
		t.Errorf("expected explicit null order_id, got %v (present=%v)", v, ok)
	}
}

func TestDispatcher_Respond(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, testLogger())

	balance := decimal.RequireFromString("49.80")
	orderID := int64(7)
	d.Respond(12, true, "unlocked", &balance, &orderID)

	if pub.topics[0] != "server/12/response" {
		t.Errorf("unexpected topic %q", pub.topics[0])
	}

	var msg struct {
		Success bool     `json:"success"`
		Message string   `json:"message"`
		Balance *float64 `json:"balance"`
		OrderID *int64   `json:"order_id"`
	}
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if !msg.Success || msg.Message != "unlocked" {
		t.Errorf("unexpected response %+v", msg)
	}
	if msg.Balance == nil || *msg.Balance != 49.80 {
		t.Errorf("expected balance 49.80, got %v", msg.Balance)
	}
	if msg.OrderID == nil || *msg.OrderID != 7 {
		t.Errorf("expected order_id 7, got %v", msg.OrderID)
	}
}

func TestDispatcher_RespondOmitsAbsentFields(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, testLogger())

	d.Respond(12, false, "card not registered", nil, nil)

	var msg map[string]any
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if _, ok := msg["balance"]; ok {
		t.Error("expected balance to be omitted")
	}
	if _, ok := msg["order_id"]; ok {
		t.Error("expected order_id to be omitted")
	}
}

func TestDispatcher_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	d := NewDispatcher(pub, testLogger())

	// Must not panic or propagate; delivery is best-effort.
	d.Command("BIKE-001", "unlock", nil)
}
