package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher delivers one encoded event.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

type KafkaPublisher struct {
	Writer *kafka.Writer
}

// NewKafkaPublisher uses one writer for every topic; the topic travels on each message.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{Writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{}, // same key, same partition, ordered per wallet/market
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error { return p.Writer.Close() }

// LogPublisher is used when no brokers are configured.
type LogPublisher struct {
	Log *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.Log.Info("event", zap.String("topic", topic), zap.String("key", key), zap.ByteString("payload", payload))
	return nil
}

func (LogPublisher) Close() error { return nil }
