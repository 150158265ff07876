package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"propdesk-affiliate/pkg/config"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(New),
)

const (
	CommissionCreated = "commission.created"
	PayoutRequested   = "payout.requested"
	PayoutReviewed    = "payout.reviewed"
	MilestoneAchieved = "milestone.achieved"
)

type Event struct {
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

func New(p Params) Publisher {
	brokers := splitBrokers(p.Config.Kafka.Brokers)
	if len(brokers) == 0 {
		zap.L().Info("[Events] no kafka brokers configured, events are logged only")
		return &logPublisher{}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        p.Config.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return writer.Close()
		},
	})

	return &kafkaPublisher{writer: writer}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaPublisher struct {
	writer messageWriter
}

func (p *kafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	carrier := headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.Key),
		Value:   value,
		Headers: append(carrier.headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)}),
		Time:    event.OccurredAt,
	})
}

type logPublisher struct{}

func (logPublisher) Publish(ctx context.Context, event Event) error {
	zap.L().Debug("event", zap.String("type", event.Type), zap.String("key", event.Key))
	return nil
}

// headerCarrier adapts kafka headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewEvent builds an Event with data marshalled as JSON.
func NewEvent(typ, key string, data any) (Event, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Key: key, OccurredAt: time.Now().UTC(), Data: b}, nil
}
