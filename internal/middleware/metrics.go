package middleware

import (
	"strings"
	"sync"

	"playforge/internal/observability"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	promOnce sync.Once
	promInst *fiberprometheus.FiberPrometheus
)

// InitMetrics creates the fiberprometheus collector for HTTP request metrics.
// Collectors register with the default registry once per process.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promInst = fiberprometheus.NewWithRegistry(prometheus.DefaultRegisterer, serviceName, "playforge", "http", nil)
	})
	return promInst
}

// MetricsMiddleware records HTTP metrics, skipping websocket upgrades whose
// latency would be the lifetime of the socket.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/api/ws") {
			return c.Next()
		}
		return prom.Middleware(c)
	}
}

// TrackWebSocket adjusts the active connection gauge for hub by delta.
func TrackWebSocket(hub string, delta float64) {
	observability.WebSocketConnectionsTotal.WithLabelValues(hub).Add(delta)
}
