package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ledgerDebits        metric.Int64Counter
	ledgerCredits       metric.Int64Counter
	creditsSpent        metric.Int64Counter
	creditsGranted      metric.Int64Counter
	generationsFinished metric.Int64Counter
	billingEvents       metric.Int64Counter
	referralConversions metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "artivio"
	}
	meter := provider.Meter(name)

	ledgerDebits, err := meter.Int64Counter("artivio_ledger_debits_total")
	if err != nil {
		return nil, err
	}
	ledgerCredits, err := meter.Int64Counter("artivio_ledger_credits_total")
	if err != nil {
		return nil, err
	}
	creditsSpent, err := meter.Int64Counter("artivio_credits_spent_total")
	if err != nil {
		return nil, err
	}
	creditsGranted, err := meter.Int64Counter("artivio_credits_granted_total")
	if err != nil {
		return nil, err
	}
	generationsFinished, err := meter.Int64Counter("artivio_generations_finished_total")
	if err != nil {
		return nil, err
	}
	billingEvents, err := meter.Int64Counter("artivio_billing_events_total")
	if err != nil {
		return nil, err
	}
	referralConversions, err := meter.Int64Counter("artivio_referral_conversions_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("artivio_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerDebits:        ledgerDebits,
		ledgerCredits:       ledgerCredits,
		creditsSpent:        creditsSpent,
		creditsGranted:      creditsGranted,
		generationsFinished: generationsFinished,
		billingEvents:       billingEvents,
		referralConversions: referralConversions,
		rateLimitDenied:     rateLimitDenied,
	}, nil
}

// RecordDebit counts a successful ledger debit and the credits spent.
func (m *Metrics) RecordDebit(ctx context.Context, reason string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.ledgerDebits.Add(ctx, 1, attrs)
	m.creditsSpent.Add(ctx, amount, attrs)
}

// RecordCredit counts a successful ledger credit and the credits granted.
func (m *Metrics) RecordCredit(ctx context.Context, reason string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.ledgerCredits.Add(ctx, 1, attrs)
	m.creditsGranted.Add(ctx, amount, attrs)
}

// RecordGenerationFinished counts terminal generation transitions.
func (m *Metrics) RecordGenerationFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.generationsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", strings.TrimSpace(status)),
	))
}

// RecordBillingEvent counts processed webhook events by outcome.
func (m *Metrics) RecordBillingEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.billingEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordReferralConversion counts credited referral conversions.
func (m *Metrics) RecordReferralConversion(ctx context.Context) {
	if m == nil {
		return
	}
	m.referralConversions.Add(ctx, 1)
}

// RecordRateLimitDenied counts rejected requests.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
