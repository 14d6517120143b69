//go:build otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/tracing/otelexport"
)

// initOTelExporter installs the OTLP tracer provider when telemetry is
// enabled. Only compiled with -tags otel. The returned func flushes spans.
func initOTelExporter(ctx context.Context, cfg *config.Config) func(context.Context) error {
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint == "" {
		slog.Debug("OTel export available but not enabled (set telemetry.enabled + telemetry.endpoint)")
		return func(context.Context) error { return nil }
	}

	otelExp, err := otelexport.New(ctx, otelexport.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Headers:        cfg.Telemetry.Headers,
	})
	if err != nil {
		slog.Warn("failed to create OTel exporter", "error", err)
		return func(context.Context) error { return nil }
	}

	otelExp.Install()
	slog.Info("OpenTelemetry OTLP export enabled",
		"endpoint", cfg.Telemetry.Endpoint,
		"protocol", cfg.Telemetry.Protocol,
	)
	return otelExp.Shutdown
}
