package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockWriter struct {
	mu       sync.Mutex
	messages []writerMessage
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...writerMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestKafkaPublisherSerialization(t *testing.T) {
	mock := &mockWriter{}
	p := &KafkaPublisher{writer: mock, topic: "auth-audit"}

	ev := Event{
		ID:         "5b0c1f2e-0000-4000-8000-000000000001",
		Type:       "auth.login.succeeded",
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UserID:     42,
		Fields:     map[string]any{"session_id": "01J"},
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(mock.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.messages))
	}
	msg := mock.messages[0]
	if msg.Topic != "auth-audit" || string(msg.Key) != "42" {
		t.Fatalf("unexpected topic/key %q/%q", msg.Topic, msg.Key)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != ev.ID || decoded.Type != ev.Type || decoded.Fields["session_id"] != "01J" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestKafkaPublisherKeyFallsBackToType(t *testing.T) {
	mock := &mockWriter{}
	p := &KafkaPublisher{writer: mock, topic: "t"}
	if err := p.Publish(context.Background(), Event{Type: "auth.login.failed"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if string(mock.messages[0].Key) != "auth.login.failed" {
		t.Fatalf("unexpected key %q", mock.messages[0].Key)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &mockWriter{err: boom}, topic: "t"}
	if err := p.Publish(context.Background(), Event{Type: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "t"); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Fatalf("expected error without topic")
	}
}

func TestRecorderPublishesAndDrainsOnClose(t *testing.T) {
	captureLog(t)
	mock := &mockWriter{}
	r := NewRecorder(&KafkaPublisher{writer: mock, topic: "auth-audit"})

	r.Record(context.Background(), "auth.user.registered", map[string]any{"user_id": int64(7)})
	r.Record(context.Background(), "auth.password.changed", nil)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.messages) != 2 || !mock.closed {
		t.Fatalf("expected 2 messages and closed writer, got %d closed=%v", len(mock.messages), mock.closed)
	}
	var ev Event
	if err := json.Unmarshal(mock.messages[0].Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ev.ID) != 36 {
		t.Fatalf("expected uuid event id, got %q", ev.ID)
	}

	r.Record(context.Background(), "after.close", nil)
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestRecorderPublishFailureIsLogged(t *testing.T) {
	buf := captureLog(t)
	r := NewRecorder(&KafkaPublisher{writer: &mockWriter{err: errors.New("broker down")}, topic: "t"})
	r.Record(context.Background(), "auth.login.failed", nil)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(buf.String(), "audit_publish_failed") {
		t.Fatalf("expected publish failure log, got %s", buf.String())
	}
}

func TestRecorderWithoutPublisher(t *testing.T) {
	buf := captureLog(t)
	r := NewRecorder(nil)
	r.Record(context.Background(), "auth.login.succeeded", nil)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(buf.String(), "auth.login.succeeded") {
		t.Fatalf("event not logged: %s", buf.String())
	}
}
