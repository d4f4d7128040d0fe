package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tessera.dev/internal/obs"
)

// Checker reports whether dependencies are reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// Health serves grpc.health.v1 with the overall and ClaimsService status
// following a readiness check.
type Health struct {
	*health.Server
	probe Checker
}

func NewHealth(probe Checker) *Health {
	h := &Health{Server: health.NewServer(), probe: probe}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", st)
	h.SetServingStatus(ServiceName, st)
}

// Refresh runs the probe once and publishes the result.
func (h *Health) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.probe.Check(ctx); err != nil {
		obs.Warn("grpc_not_ready", map[string]any{"error": err.Error()})
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
}

// Watch refreshes the status every interval until ctx is done, then marks
// everything as not serving.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
