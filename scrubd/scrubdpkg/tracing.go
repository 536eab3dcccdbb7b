// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrubdpkg

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/logger"
)

const (
	tracingExporterNone   = "none"
	tracingExporterStdout = "stdout"
)

// startTracing installs the TracerProvider that receives each scrubber's
// per-pass spans. Spans are only exported if Tracing.Exporter asks for it.
func startTracing() (err error) {
	var (
		exporter sdktrace.SpanExporter
		options  []sdktrace.TracerProviderOption
		writer   io.Writer
	)

	options = []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewWithAttributes(
			"",
			attribute.String("service.name", "scrubd"),
			attribute.String("service.instance.id", globals.config.PoolUUID.String()),
			attribute.Int64("scrubd.rank", int64(globals.config.Rank)),
		)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}

	switch globals.config.TracingExporter {
	case tracingExporterNone:
	case tracingExporterStdout:
		if "" == globals.config.TracingOutputPath {
			writer = os.Stdout
		} else {
			globals.traceFile, err = os.OpenFile(globals.config.TracingOutputPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
			if nil != err {
				err = blunder.AddError(err, blunder.InvalidConfigError)
				return
			}
			writer = globals.traceFile
		}

		exporter, err = stdouttrace.New(stdouttrace.WithWriter(writer))
		if nil != err {
			return
		}

		options = append(options, sdktrace.WithBatcher(exporter))
	}

	globals.tracerProvider = sdktrace.NewTracerProvider(options...)

	otel.SetTracerProvider(globals.tracerProvider)

	return
}

// stopTracing flushes any spans not yet exported.
func stopTracing() (err error) {
	if nil != globals.tracerProvider {
		err = globals.tracerProvider.Shutdown(context.Background())
		if nil != err {
			logger.WarnfWithError(err, "tracerProvider.Shutdown() failed")
		}
	}

	if nil != globals.traceFile {
		closeErr := globals.traceFile.Close()
		if nil == err {
			err = closeErr
		}
	}

	return
}
