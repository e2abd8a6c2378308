package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"soundproof/logger"

	"github.com/segmentio/kafka-go"
)

// PlayMessage is the event published for every counted play.
type PlayMessage struct {
	Type        string    `json:"type"`
	TrackID     int64     `json:"trackId"`
	UploaderFID int64     `json:"uploaderFid"`
	ListenerFID int64     `json:"listenerFid,omitempty"`
	PlayCount   int64     `json:"playCount"`
	Seconds     float64   `json:"seconds,omitempty"` // listen messages only
	Encrypted   bool      `json:"encrypted"`
	PlayedAt    time.Time `json:"playedAt"`
}

// Publisher sends play messages downstream.
type Publisher interface {
	Publish(ctx context.Context, msg PlayMessage) error
	Close() error
}

// Producer publishes play messages to a Kafka topic.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a producer for brokers.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, topic: topic}
}

func encodeMessage(msg PlayMessage) (kafka.Message, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode play message: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(msg.TrackID, 10)),
		Value: value,
		Time:  msg.PlayedAt,
	}, nil
}

// Publish writes msg keyed by track id so a track's plays stay ordered.
func (p *Producer) Publish(ctx context.Context, msg PlayMessage) error {
	m, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads play messages, used by the `plays` CLI.
type Consumer struct {
	reader  *kafka.Reader
	backoff time.Duration
}

// NewConsumer creates a consumer in group for topic.
func NewConsumer(brokers []string, topic, group string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	return &Consumer{reader: reader, backoff: 5 * time.Second}
}

// Consume calls handler for each message until ctx ends.
func (c *Consumer) Consume(ctx context.Context, handler func(PlayMessage) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("kafka read failed", logger.ErrorField(err))
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		var pm PlayMessage
		if err := json.Unmarshal(msg.Value, &pm); err != nil {
			logger.Warn("skipping malformed play message", logger.Int64("offset", msg.Offset), logger.ErrorField(err))
			continue
		}
		if err := handler(pm); err != nil {
			logger.Error("play message handler failed", logger.Int64("trackId", pm.TrackID), logger.ErrorField(err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
