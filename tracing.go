// Copyright 2024 the ibarrow contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package ibarrow

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "github.com/ibarrow/ibarrow-go"
	otelTracesExporter = "OTEL_TRACES_EXPORTER"

	// Exporter selections understood in OTEL_TRACES_EXPORTER.
	traceExporterNone    = "none"
	traceExporterConsole = "console"
	traceExporterOtlp    = "otlp"
	traceExporterFile    = "ibarrow_file"
)

var getExporterName = sync.OnceValue(func() string {
	return os.Getenv(otelTracesExporter)
})

// initTracing selects a span exporter from the OTEL_TRACES_EXPORTER
// environment variable and returns a tracer plus an optional provider
// shutdown hook. With no exporter configured the globally registered
// provider is used, which is a no-op unless the application installed
// one.
func initTracing(ctx context.Context) (trace.Tracer, func(context.Context) error, error) {
	var exporters []sdktrace.SpanExporter

	switch name := getExporterName(); name {
	case "", traceExporterNone:
		return otel.Tracer(tracerName), nil, nil
	case traceExporterConsole:
		exporter, err := stdouttrace.New()
		if err != nil {
			return nil, nil, err
		}
		exporters = append(exporters, exporter)
	case traceExporterOtlp:
		grpcExporter, err := otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
				Enabled:         true,
				InitialInterval: 5 * time.Second,
				MaxInterval:     30 * time.Second,
			}),
		)
		if err != nil {
			return nil, nil, err
		}
		httpExporter, err := otlptracehttp.New(
			ctx,
			otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
				Enabled:         true,
				InitialInterval: 5 * time.Second,
				MaxInterval:     30 * time.Second,
			}),
		)
		if err != nil {
			return nil, nil, err
		}
		exporters = append(exporters, grpcExporter, httpExporter)
	case traceExporterFile:
		fileWriter, err := newRotatingTraceWriter()
		if err != nil {
			return nil, nil, err
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(fileWriter))
		if err != nil {
			return nil, nil, err
		}
		exporters = append(exporters, exporter)
	default:
		eh := errorHelper{prefix: "ibarrow"}
		return nil, nil, eh.errorf(StatusInvalidArgument, "unknown %s value '%s'", otelTracesExporter, name)
	}

	provider, err := newTracerProvider(exporters...)
	if err != nil {
		return nil, nil, err
	}
	return provider.Tracer(tracerName), provider.Shutdown, nil
}

func newTracerProvider(exporters ...sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	tracerResource, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("ibarrow"),
		),
	)
	if err != nil {
		if !errors.Is(err, resource.ErrSchemaURLConflict) {
			return nil, err
		}
		tracerResource = resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("ibarrow"),
		)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(tracerResource),
	}
	for _, exporter := range exporters {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}
