package infra

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// InitTracing installs a global tracer provider exporting spans as JSON to
// stdout or to cfg.Tracing.File. With tracing disabled the global no-op
// provider stays in place. The returned func flushes and stops the exporter.
func InitTracing(cfg *Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var out io.Writer = os.Stdout
	var file *os.File
	if cfg.Tracing.File != "" {
		f, oerr := os.OpenFile(cfg.Tracing.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if oerr != nil {
			return nil, oerr
		}
		out, file = f, f
		defer func() {
			if err != nil {
				file.Close()
			}
		}()
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.App.Name),
			semconv.ServiceVersion(cfg.App.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return func(ctx context.Context) error {
		err := provider.Shutdown(ctx)
		if file != nil {
			if cerr := file.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}
