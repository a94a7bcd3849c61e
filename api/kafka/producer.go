package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
)

// PostEvent is the queue message produced once per submitted post. The
// worker's ingress trigger consumes exactly one of these per pipeline run.
type PostEvent struct {
	PostID    string `json:"post_id"`
	UserID    string `json:"user_id"`
	Bucket    string `json:"bucket"`
	Timestamp int64  `json:"timestamp"`
}

type Producer interface {
	SendPostEvent(ctx context.Context, topic string, event *PostEvent) error
	Close() error
}

type producer struct {
	producer sarama.SyncProducer
}

func NewProducer(brokers []string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &producer{producer: p}, nil
}

func (p *producer) SendPostEvent(ctx context.Context, topic string, event *PostEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Keyed by post id so redeliveries of the same post stay on one partition.
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.PostID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *producer) Close() error {
	return p.producer.Close()
}
