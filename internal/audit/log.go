// Package audit records security-relevant events as JSON log lines and,
// when configured, publishes them to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	_, err := logEvent(ctx, event, fields, time.Now().UTC())
	return err
}

func logEvent(ctx context.Context, event string, fields map[string]any, at time.Time) (Event, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return Event{}, errors.New("event name is required")
	}
	ev := Event{
		Type:       event,
		OccurredAt: at,
		RequestID:  RequestIDFromContext(ctx),
		Fields:     make(map[string]any, len(fields)),
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		ev.UserID = userID
	}
	for k, v := range fields {
		ev.Fields[k] = v
	}

	entry := map[string]any{
		"ts":     at.Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  ev.Type,
		"fields": ev.Fields,
	}
	if ev.RequestID != "" {
		entry["request_id"] = ev.RequestID
	}
	if ev.UserID != 0 {
		entry["user_id"] = ev.UserID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return Event{}, err
	}
	obs.Logger().Println(string(data))
	return ev, nil
}
