package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderConfigFromEnvDefaultsToNone(t *testing.T) {
	cfg := ProviderConfigFromEnv()
	require.Equal(t, ExporterNone, cfg.Exporter)
}

func TestProviderConfigFromEnvReadsExporterSelection(t *testing.T) {
	t.Setenv("TRACKHIVE_TRACE_EXPORTER", "otlp-grpc")
	t.Setenv("TRACKHIVE_TRACE_ENDPOINT", "collector:4317")
	t.Setenv("TRACKHIVE_TRACE_INSECURE", "true")

	cfg := ProviderConfigFromEnv()
	require.Equal(t, ExporterOTLPGRPC, cfg.Exporter)
	require.Equal(t, "collector:4317", cfg.Endpoint)
	require.True(t, cfg.Insecure)
}

func TestInstallTracerProviderNoneIsNoop(t *testing.T) {
	shutdown, err := InstallTracerProvider(context.Background(), ProviderConfig{Exporter: ExporterNone})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInstallTracerProviderUnknownExporterErrors(t *testing.T) {
	_, err := InstallTracerProvider(context.Background(), ProviderConfig{Exporter: "bogus"})
	require.Error(t, err)
}
