package services

import (
	"context"
	"fmt"
	"time"

	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is anything with a liveness probe, such as a notification store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionCounter reports live realtime connections.
type ConnectionCounter interface {
	Count() int
}

type HealthService struct {
	store          Pinger
	redisClient    redis.Cmdable
	gateway        ConnectionCounter
	maxConnections int
	version        string
	startTime      time.Time
	log            *zap.SugaredLogger
}

// NewHealthService builds the checker. redisClient may be nil when the cache
// runs in memory.
func NewHealthService(store Pinger, redisClient redis.Cmdable, version string) *HealthService {
	return &HealthService{
		store:       store,
		redisClient: redisClient,
		version:     version,
		startTime:   time.Now(),
		log:         logger.GetLogger().Named("health"),
	}
}

// SetGateway adds the realtime component to the report.
func (h *HealthService) SetGateway(g ConnectionCounter, maxConnections int) {
	h.gateway = g
	h.maxConnections = maxConnections
}

func (h *HealthService) CheckHealth(ctx context.Context) types.HealthCheck {
	components := make(map[string]types.HealthComponent)

	components["store"] = h.checkStore(ctx)
	if h.redisClient != nil {
		components["redis"] = h.checkRedis(ctx)
	}

	active := 0
	if h.gateway != nil {
		active = h.gateway.Count()
		components["realtime"] = h.checkRealtime(active)
	}

	return types.HealthCheck{
		Status:            overallStatus(components),
		Components:        components,
		Version:           h.version,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveConnections: active,
	}
}

// overallStatus is DOWN when the store is down. Any other unhealthy component
// only degrades the service: reads skip a dead cache and clients fall back to
// polling when the gateway is full.
func overallStatus(components map[string]types.HealthComponent) types.HealthStatus {
	status := types.HealthStatusUp
	for name, c := range components {
		switch c.Status {
		case types.HealthStatusDown:
			if name == "store" {
				return types.HealthStatusDown
			}
			status = types.HealthStatusDegraded
		case types.HealthStatusDegraded:
			status = types.HealthStatusDegraded
		}
	}
	return status
}

func (h *HealthService) checkStore(ctx context.Context) types.HealthComponent {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.log.Errorw("Store health check failed", "error", err)
		return types.HealthComponent{Status: types.HealthStatusDown, Details: "Store unreachable"}
	}
	return types.HealthComponent{Status: types.HealthStatusUp}
}

func (h *HealthService) checkRedis(ctx context.Context) types.HealthComponent {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		h.log.Errorw("Redis health check failed", "error", err)
		return types.HealthComponent{Status: types.HealthStatusDown, Details: "Redis connection failed"}
	}
	return types.HealthComponent{Status: types.HealthStatusUp}
}

func (h *HealthService) checkRealtime(active int) types.HealthComponent {
	if h.maxConnections > 0 && active*10 >= h.maxConnections*9 {
		return types.HealthComponent{
			Status:  types.HealthStatusDegraded,
			Details: fmt.Sprintf("%d of %d connections in use", active, h.maxConnections),
		}
	}
	return types.HealthComponent{Status: types.HealthStatusUp}
}
