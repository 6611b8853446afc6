package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracingConfigExporterKind(t *testing.T) {
	cases := map[string]string{
		"":       "otlp",
		" OTLP ": "otlp",
		"off":    "none",
		"None":   "none",
		"zipkin": "zipkin",
	}
	for in, want := range cases {
		require.Equal(t, want, TracingConfig{Exporter: in}.exporterKind(), in)
	}
}

func TestTracingSamplerClampsRatio(t *testing.T) {
	require.Contains(t, TracingConfig{SamplingRatio: 0}.sampler().Description(), "root:AlwaysOnSampler")
	require.Contains(t, TracingConfig{SamplingRatio: 7}.sampler().Description(), "root:AlwaysOnSampler")
	require.Contains(t, TracingConfig{SamplingRatio: 0.25}.sampler().Description(), "root:TraceIDRatioBased{0.25}")
	require.Contains(t, TracingConfig{SamplingRatio: 0.25}.sampler().Description(), "ParentBased")
}

func TestInitTracerDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"})
	require.ErrorContains(t, err, "unsupported tracing exporter: zipkin")
}
