package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

type ProducerConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Producer struct {
	w     *kafka.Writer
	topic string
	log   *zap.Logger
}

func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           cfg.WriteTimeout,
			AllowAutoTopicCreation: true,
		},
		topic: cfg.Topic,
		log:   zap.L().With(zap.String("component", "kafka.producer"), zap.String("topic", cfg.Topic)),
	}
}

// BootstrapProducer makes sure the topic exists before the first write.
func BootstrapProducer(ctx context.Context, cfg ProducerConfig, log *zap.Logger) *Producer {
	if len(cfg.Brokers) > 0 {
		_ = EnsureTopic(ctx, cfg.Brokers, TopicSpec{
			Name:              cfg.Topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
			MaxWait:           5 * time.Second,
		}, log)
	}
	return NewProducer(cfg).WithLogger(log)
}

func (p *Producer) WithLogger(l *zap.Logger) *Producer {
	if l == nil {
		return p
	}
	cp := *p
	cp.log = l.With(zap.String("component", "kafka.producer"), zap.String("topic", p.topic))
	return &cp
}

var mProduced = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_produced_total",
	Help: "Messages written to kafka by topic and result.",
}, []string{"topic", "result"})

// PublishProto writes m under key. headers travel next to the trace context;
// consumers use them to route and dedupe without decoding the value.
func (p *Producer) PublishProto(ctx context.Context, key []byte, m proto.Message, headers map[string]string) error {
	value, err := proto.Marshal(m)
	if err != nil {
		p.log.Error("proto marshal failed", zap.Error(err))
		return err
	}

	tr := otel.Tracer("kafka.producer")
	ctx, span := tr.Start(ctx, "kafka.produce "+p.topic, trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingOperationPublish,
			attribute.String("messaging.kafka.message.key", string(key)),
		),
	)
	defer span.End()

	hdrs := mapCarrierHeaders{"content-type": "application/x-protobuf"}
	for k, v := range headers {
		hdrs[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, hdrs)

	msg := kafka.Message{Key: key, Value: value, Headers: hdrs.ToKafka()}

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		mProduced.WithLabelValues(p.topic, "error").Inc()
		span.RecordError(err)
		p.log.Error("kafka write failed", zap.ByteString("key", key), zap.Error(err))
		return err
	}
	mProduced.WithLabelValues(p.topic, "ok").Inc()
	p.log.Debug("message published",
		zap.ByteString("key", key),
		zap.Int("value_len", len(value)),
	)
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

func KeyFromInt64(id int64) []byte { return []byte(strconv.FormatInt(id, 10)) }
