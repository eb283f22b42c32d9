package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the collector's registry in the Prometheus exposition
// format. A scrape that hits a broken collector still returns the metrics
// that could be gathered, and the failure is logged.
func (c *Collector) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(c.registry, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
		ErrorLog:          scrapeLogger{slog.Default().With("component", "metrics")},
		Registry:          c.registry,
	}))
}

// scrapeLogger adapts slog to promhttp.Logger.
type scrapeLogger struct {
	logger *slog.Logger
}

func (l scrapeLogger) Println(v ...interface{}) {
	l.logger.Warn("metrics scrape error", "detail", v)
}
