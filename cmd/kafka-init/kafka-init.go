package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Pricerus/internal/config/scheduler"
	"github.com/NordCoder/Pricerus/internal/obs"
	"github.com/NordCoder/Pricerus/internal/repository/kafka"
)

// kafka-init creates the price-dropped topic before the scheduler starts.
func main() {
	cfgPath := flag.String("config", "config/scheduler.yaml", "path to config file")
	partitions := flag.Int("partitions", 3, "topic partitions")
	rf := flag.Int("rf", 1, "replication factor")
	wait := flag.Duration("wait", 30*time.Second, "max wait for partition leaders")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	l, err := obs.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *wait+30*time.Second)
	defer cancel()

	err = kafka.EnsureTopic(ctx, cfg.Kafka.Brokers, kafka.TopicSpec{
		Name:              cfg.Kafka.Topic,
		NumPartitions:     *partitions,
		ReplicationFactor: *rf,
		MaxWait:           *wait,
	}, l)
	if err != nil {
		l.Fatal("ensure topic", zap.String("topic", cfg.Kafka.Topic), zap.Error(err))
	}
	l.Info("kafka-init ok", zap.String("topic", cfg.Kafka.Topic))
}
