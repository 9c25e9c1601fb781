package observability

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the grading metrics in the Prometheus exposition format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MetricsHandler mounts Handler on a fiber route.
func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(Handler())
}
