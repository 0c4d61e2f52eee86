package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	// MaxWait bounds how long EnsureTopic waits for partition leaders.
	MaxWait time.Duration
}

var ErrTopicNotReady = errors.New("kafka topic not ready")

// EnsureTopic creates spec.Name through the controller if it is missing and
// waits until every partition has a leader.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	if spec.NumPartitions <= 0 {
		spec.NumPartitions = 1
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	if spec.MaxWait <= 0 {
		spec.MaxWait = 5 * time.Second
	}
	log = log.With(zap.String("topic", spec.Name))

	if err := createTopic(ctx, brokers[0], spec); err != nil {
		log.Warn("create topic", zap.Error(err))
		return err
	}

	backoff := 200 * time.Millisecond
	deadline := time.Now().Add(spec.MaxWait)
	for time.Now().Before(deadline) {
		if topicReady(ctx, brokers[0], spec.Name) {
			log.Info("topic ready", zap.Int("partitions", spec.NumPartitions))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	log.Warn("topic not confirmed ready in time", zap.Duration("waited", spec.MaxWait))
	return fmt.Errorf("%w: %s", ErrTopicNotReady, spec.Name)
}

func createTopic(ctx context.Context, broker string, spec TopicSpec) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", broker, err)
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func topicReady(ctx context.Context, broker, topic string) bool {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return false
	}
	defer conn.Close()
	parts, err := conn.ReadPartitions(topic)
	if err != nil || len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if p.Leader.ID == -1 {
			return false
		}
	}
	return true
}
