package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_MetricsReachRegistry(t *testing.T) {
	t.Parallel()

	p, err := Setup(context.Background(), Config{ServiceName: "hedgebench-test", TraceExporter: "none"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	counter, err := p.MeterProvider.Meter("test").Int64Counter("probe.requests")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := p.Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["probe_requests_total"], "otel counter exported")
	assert.True(t, names["go_goroutines"], "runtime collector registered")
}

func TestSetup_StdoutTraces(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p, err := Setup(context.Background(), Config{ServiceName: "hedgebench-test", TraceExporter: "stdout", TraceWriter: &buf})
	require.NoError(t, err)

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "hedge.run")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"hedge.run"`)
}

func TestSetup_UnknownExporter(t *testing.T) {
	t.Parallel()

	_, err := Setup(context.Background(), Config{TraceExporter: "carrier-pigeon"})

	assert.ErrorIs(t, err, ErrUnknownExporter)
}
