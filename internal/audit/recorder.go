package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/obs"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// Recorder implements auth.Auditor. Every event is logged synchronously; when
// a Publisher is set the event is also queued for background publication.
// A full queue drops the event from the sink, never from the log.
type Recorder struct {
	pub     Publisher
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

var _ auth.Auditor = (*Recorder)(nil)

// NewRecorder starts the publishing goroutine when pub is non-nil.
func NewRecorder(pub Publisher) *Recorder {
	r := &Recorder{
		pub:     pub,
		timeout: defaultPublishTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		done:    make(chan struct{}),
	}
	if pub == nil {
		close(r.done)
		return r
	}
	r.queue = make(chan Event, defaultQueueSize)
	go r.loop()
	return r
}

func (r *Recorder) Record(ctx context.Context, event string, fields map[string]any) {
	ev, err := logEvent(ctx, event, fields, r.now())
	if err != nil {
		obs.Warn("audit_log_failed", map[string]any{"event": event, "error": err.Error()})
		return
	}
	if r.pub == nil {
		return
	}
	ev.ID = uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		obs.Warn("audit_queue_full", map[string]any{"event": ev.Type, "event_id": ev.ID})
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.pub.Publish(ctx, ev); err != nil {
			obs.Warn("audit_publish_failed", map[string]any{
				"event":    ev.Type,
				"event_id": ev.ID,
				"error":    err.Error(),
			})
		}
		cancel()
	}
}

// Close drains queued events and closes the publisher.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	if r.queue != nil {
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
	if r.pub != nil {
		return r.pub.Close()
	}
	return nil
}
