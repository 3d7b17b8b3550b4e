/*
Copyright 2026 AI Red Teaming Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package telemetry wires an OpenTelemetry tracer provider spanning the
// HTTP ingress -> KV store -> callback path. Tracing is request-scoped
// observability; it never influences a dispatch decision.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
)

// TracerName identifies spans this service emits.
const TracerName = "github.com/ai-redteam-labs/review-dispatcher"

// Provider wraps a *sdktrace.TracerProvider so callers get a single
// Shutdown hook without reaching into the otel SDK directly.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a TracerProvider with a batching span processor over
// exporter. A nil exporter is valid: it registers no span processor, so
// every span is created and immediately dropped — useful for tests and for
// running with tracing disabled without branching call sites.
func NewProvider(ctx context.Context, serviceName string, exporter sdktrace.SpanExporter) (*Provider, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Tracer returns the package-wide tracer for span creation.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return rderrors.Wrap(p.tp.Shutdown(ctx), "shutdown tracer provider")
}

// WithGUID annotates the current span with the conversation guid, the
// identifier spec.md §7 requires on every traceable operation.
func WithGUID(span trace.Span, guid string) {
	if guid == "" {
		return
	}
	span.SetAttributes(attribute.String("review.guid", guid))
}

// WithSID annotates the current span with the reviewer socket id.
func WithSID(span trace.Span, sid string) {
	if sid == "" {
		return
	}
	span.SetAttributes(attribute.String("review.sid", sid))
}
