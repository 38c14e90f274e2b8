package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/listing-enricher/internal/config"
)

// TestInitInstallsProviders installs global state, so it does not run in parallel.
func TestInitInstallsProviders(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	p, err := Init(ctx, config.TelemetryConfig{ServiceName: "listing-enricher", Version: "test", SampleRatio: 1}, reg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, p.Shutdown(context.Background()))
	})

	spanCtx, span := otel.Tracer("telemetry-test").Start(ctx, "probe")
	require.True(t, span.SpanContext().IsSampled())
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))
	span.End()

	counter, err := otel.Meter("telemetry-test").Int64Counter("enricher_probe_events")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "enricher_probe_events") {
			found = true
			require.InDelta(t, 2, mf.GetMetric()[0].GetCounter().GetValue(), 0)
		}
	}
	require.True(t, found, "otel counter should be exported through the prometheus registry")
}

func TestInitSamplesNothingAtZeroRatio(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := Init(context.Background(), config.TelemetryConfig{ServiceName: "listing-enricher"}, reg)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Shutdown(context.Background())) }()

	_, span := p.Tracer.Tracer("telemetry-test").Start(context.Background(), "probe")
	defer span.End()
	require.False(t, span.SpanContext().IsSampled())
}

func TestNilProvidersShutdown(t *testing.T) {
	t.Parallel()

	var p *Providers
	require.NoError(t, p.Shutdown(context.Background()))
}
