package kafka

import (
	"context"
	"fmt"
	"log"

	"github.com/IBM/sarama"
)

// Message is one record to publish.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer publishes synchronously and reports failures per message.
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer connects a synchronous producer to brokers.
func NewProducer(brokers []string) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{producer: p}, nil
}

// NewProducerWith wraps an existing sarama producer.
func NewProducerWith(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// PublishBatch sends msgs in one call and returns one error slot per message,
// nil where the message was accepted. A failure of message i never affects
// the others.
func (p *Producer) PublishBatch(ctx context.Context, msgs []Message) []error {
	results := make([]error, len(msgs))
	if len(msgs) == 0 {
		return results
	}
	if err := ctx.Err(); err != nil {
		for i := range results {
			results[i] = err
		}
		return results
	}

	batch := make([]*sarama.ProducerMessage, len(msgs))
	for i, m := range msgs {
		batch[i] = toProducerMessage(m)
		batch[i].Metadata = i
	}

	err := p.producer.SendMessages(batch)
	if err == nil {
		return results
	}

	perMessage, ok := err.(sarama.ProducerErrors)
	if !ok {
		for i := range results {
			results[i] = err
		}
		return results
	}
	for _, pe := range perMessage {
		idx, ok := pe.Msg.Metadata.(int)
		if !ok || idx < 0 || idx >= len(results) {
			log.Printf("kafka: producer error for unknown message: %v", pe.Err)
			continue
		}
		results[idx] = pe.Err
	}
	return results
}

// Publish sends a single message.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	return p.PublishBatch(ctx, []Message{msg})[0]
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}

func toProducerMessage(m Message) *sarama.ProducerMessage {
	pm := &sarama.ProducerMessage{
		Topic: m.Topic,
		Value: sarama.ByteEncoder(m.Value),
	}
	if m.Key != "" {
		pm.Key = sarama.StringEncoder(m.Key)
	}
	for k, v := range m.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return pm
}
