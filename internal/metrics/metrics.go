// Package metrics exposes the service's domain counters over OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const meterName = "github.com/emplant2000/piphp"

// NewMeterProvider returns a MeterProvider exporting over OTLP/gRPC to endpoint.
// With an empty endpoint the provider has no reader and records nothing.
func NewMeterProvider(ctx context.Context, endpoint, serviceName string) (*sdkmetric.MeterProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return sdkmetric.NewMeterProvider(), nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if u.Scheme != "https" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))),
	), nil
}

// Recorder holds the domain counters. A nil *Recorder is valid and records nothing.
type Recorder struct {
	logins      metric.Int64Counter
	cashouts    metric.Int64Counter
	transitions metric.Int64Counter
	webhooks    metric.Int64Counter
}

// NewRecorder creates the counters on mp.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	m := mp.Meter(meterName)
	var (
		r   Recorder
		err error
	)
	if r.logins, err = m.Int64Counter("pi_demo.logins", metric.WithDescription("Login attempts by outcome")); err != nil {
		return nil, err
	}
	if r.cashouts, err = m.Int64Counter("pi_demo.cashouts", metric.WithDescription("Cashout requests by outcome")); err != nil {
		return nil, err
	}
	if r.transitions, err = m.Int64Counter("pi_demo.payment_transitions", metric.WithDescription("Payment status updates by outcome")); err != nil {
		return nil, err
	}
	if r.webhooks, err = m.Int64Counter("pi_demo.webhooks", metric.WithDescription("Webhook deliveries by type and response")); err != nil {
		return nil, err
	}
	return &r, nil
}

// MustRecorder is NewRecorder that logs and falls back to a nil Recorder.
func MustRecorder(mp metric.MeterProvider) *Recorder {
	r, err := NewRecorder(mp)
	if err != nil {
		log.Printf("metrics: create instruments: %v", err)
		return nil
	}
	return r
}

func (r *Recorder) Login(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) Cashout(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.cashouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) Transition(ctx context.Context, outcome, status string) {
	if r == nil {
		return
	}
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("status", status),
	))
}

func (r *Recorder) Webhook(ctx context.Context, eventType, status string) {
	if r == nil {
		return
	}
	r.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("status", status),
	))
}
