// Package publisher fans accepted samples out to an AMQP exchange.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, samples []sampledomain.Sample) error
}

// Noop discards everything. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, []sampledomain.Sample) error { return nil }

// tableCarrier adapts amqp.Table to a propagation.TextMapCarrier.
type tableCarrier struct {
	table amqp.Table
}

func (c tableCarrier) Get(key string) string {
	if val, ok := c.table[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
		return fmt.Sprintf("%v", val)
	}
	return ""
}

func (c tableCarrier) Set(key, value string) {
	c.table[key] = value
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c.table))
	for k := range c.table {
		keys = append(keys, k)
	}
	return keys
}

type AMQP struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
	log        *zap.Logger
}

func DialAMQP(url, exchange, routingKey string, log *zap.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQP{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		log:        log.Named("publisher.amqp"),
	}, nil
}

// Publish sends one persistent message per sample, routed by counter name.
func (p *AMQP) Publish(ctx context.Context, samples []sampledomain.Sample) error {
	ctx, span := otel.Tracer("telemetry/publisher").Start(ctx, "rabbitmq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", p.exchange),
			attribute.Int("messaging.batch.message_count", len(samples)),
		))
	defer span.End()

	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sample := range samples {
		msg, err := buildPublishing(ctx, sample, now)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(p.routingKey, sample.CounterName), false, false, msg); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.log.Warn("close amqp channel", zap.Error(err))
	}
	return p.conn.Close()
}

func RoutingKey(prefix, counterName string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return counterName
	}
	return prefix + "." + counterName
}

func buildPublishing(ctx context.Context, sample sampledomain.Sample, now time.Time) (amqp.Publishing, error) {
	body, err := sonic.Marshal(sample)
	if err != nil {
		return amqp.Publishing{}, err
	}
	headers := amqp.Table{
		"counter_name": sample.CounterName,
		"resource_id":  sample.ResourceID,
	}
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier{table: headers})

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    sample.MessageID,
		Timestamp:    now,
		Body:         body,
		Headers:      headers,
	}, nil
}
