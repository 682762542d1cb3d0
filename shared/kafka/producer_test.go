package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSyncProducer fails the messages whose keys are listed in fail.
type fakeSyncProducer struct {
	sarama.SyncProducer
	fail    map[string]bool
	down    error
	batches [][]*sarama.ProducerMessage
}

func (f *fakeSyncProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	f.batches = append(f.batches, msgs)
	if f.down != nil {
		return f.down
	}
	var errs sarama.ProducerErrors
	for _, m := range msgs {
		key, _ := m.Key.Encode()
		if f.fail[string(key)] {
			errs = append(errs, &sarama.ProducerError{Msg: m, Err: sarama.ErrMessageSizeTooLarge})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (f *fakeSyncProducer) Close() error { return nil }

func batchOf(keys ...string) []Message {
	msgs := make([]Message, len(keys))
	for i, k := range keys {
		msgs[i] = Message{Topic: "jobs", Key: k, Value: []byte(k)}
	}
	return msgs
}

func TestPublishBatch_OneFailureIsIsolated(t *testing.T) {
	fake := &fakeSyncProducer{fail: map[string]bool{"k3": true}}
	p := NewProducerWith(fake)

	results := p.PublishBatch(context.Background(), batchOf("k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8", "k9", "k10"))

	require.Len(t, results, 10)
	failed := 0
	for i, err := range results {
		if i == 2 {
			assert.ErrorIs(t, err, sarama.ErrMessageSizeTooLarge)
			failed++
			continue
		}
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, failed)
	assert.Len(t, fake.batches, 1, "the batch is sent once")
}

func TestPublishBatch_WholeBatchError(t *testing.T) {
	p := NewProducerWith(&fakeSyncProducer{down: errors.New("no brokers")})
	results := p.PublishBatch(context.Background(), batchOf("a", "b"))
	assert.Error(t, results[0])
	assert.Error(t, results[1])
}

func TestPublish_SetsHeaders(t *testing.T) {
	fake := &fakeSyncProducer{}
	p := NewProducerWith(fake)
	require.NoError(t, p.Publish(context.Background(), Message{Topic: "jobs-retry", Key: "k", Headers: map[string]string{AttemptHeader: "2"}}))

	sent := fake.batches[0][0]
	assert.Equal(t, "jobs-retry", sent.Topic)
	require.Len(t, sent.Headers, 1)
	assert.Equal(t, "2", string(sent.Headers[0].Value))
}
