package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFn matches the common ordered-shutdown-func signature used elsewhere.
type ShutdownFn func(ctx context.Context) error

// NewMeterProvider builds an otel MeterProvider backed by a Prometheus
// collector registry and installs it as the global provider, so the
// opsMeter/engineMeter instruments NewHandle creates actually export
// somewhere instead of recording into the no-op default. Returns an
// http.Handler for the caller to serve at a scrape endpoint, and a shutdown
// func to flush/release the provider on unmount.
//
// Exporter construction follows the otel exporters/prometheus package's
// own documented usage.
func NewMeterProvider() (*sdkmetric.MeterProvider, http.Handler, ShutdownFn, error) {
	reg := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return provider, handler, provider.Shutdown, nil
}
