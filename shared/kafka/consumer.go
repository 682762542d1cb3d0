package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// AttemptHeader counts how many times a message has been delivered.
const AttemptHeader = "x-attempt"

// Delivery is one consumed message.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Attempt   int
}

// MessageHandler processes a delivery and settles it by calling done exactly
// once, possibly later and from another goroutine. done(nil) commits the
// message; done(err) sends it to the retry topic, or to the dead-letter
// topic once its deliveries are used up.
type MessageHandler interface {
	HandleMessage(ctx context.Context, d Delivery, done func(error))
}

// Republisher sends a failed message to the retry or dead-letter topic.
type Republisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Consumer handles Kafka message consumption with pluggable message handling
type Consumer struct {
	consumer sarama.ConsumerGroup
	handler  MessageHandler
	settler  *settler
	topics   []string
	groupID  string
	ready    chan bool
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers         []string
	Topic           string
	RetryTopic      string
	DeadLetterTopic string
	GroupID         string
	MaxDeliveries   int
	Handler         MessageHandler
	Republisher     Republisher
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(config ConsumerConfig) (*Consumer, error) {
	if config.Handler == nil || config.Republisher == nil {
		return nil, errors.New("kafka consumer requires a handler and a republisher")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	client, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	topics := []string{config.Topic}
	if config.RetryTopic != "" {
		topics = append(topics, config.RetryTopic)
	}

	consumer := &Consumer{
		consumer: client,
		handler:  config.Handler,
		settler: newSettler(config.Republisher, config.RetryTopic, config.DeadLetterTopic, config.MaxDeliveries),
		topics:  topics,
		groupID: config.GroupID,
		ready:   make(chan bool),
	}

	return consumer, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		messageHandler: c.handler,
		settler:        c.settler,
		ready:          c.ready,
	}

	go func() {
		for {
			// A stuck partition cancels the session so it resumes from the
			// last committed offset.
			sessionCtx, cancel := context.WithCancel(ctx)
			c.settler.setRestart(cancel)
			err := c.consumer.Consume(sessionCtx, c.topics, handler)
			cancel()
			if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
				log.Println("Kafka consumer stopped")
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Error from Kafka consumer: %v", err)
			}
			handler.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Printf("Kafka consumer started (group: %s, topics: %v)", c.groupID, c.topics)

	// Handle errors
	go func() {
		for err := range c.consumer.Errors() {
			log.Printf("Kafka consumer error: %v", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the consumer
func (c *Consumer) Close() error {
	log.Println("Closing Kafka consumer...")
	return c.consumer.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	messageHandler MessageHandler
	settler        *settler
	ready          chan bool
}

// Setup is run at the beginning of a new session, before ConsumeClaim
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.settler.reset()
	close(h.ready)
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim must start a consumer loop of ConsumerGroupClaim's Messages()
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			d := deliveryOf(message)
			log.Printf("Received Kafka message: topic=%s partition=%d offset=%d key=%s attempt=%d",
				d.Topic, d.Partition, d.Offset, string(d.Key), d.Attempt)

			h.messageHandler.HandleMessage(session.Context(), d, h.settler.doneFunc(session.Context(), session, message, d.Attempt))

		case <-session.Context().Done():
			return nil
		}
	}
}

// offsetMarker is the part of a consumer group session used to settle
// messages.
type offsetMarker interface {
	MarkMessage(msg *sarama.ConsumerMessage, metadata string)
	ResetOffset(topic string, partition int32, offset int64, metadata string)
}

// settler turns a handler's verdict into offset commits and republishes.
//
// Marking an offset commits everything before it, so once a failed message
// cannot be parked its partition is stuck: later offsets on it are no longer
// marked and the session is restarted to redeliver from the failed one.
type settler struct {
	republisher     Republisher
	retryTopic      string
	deadLetterTopic string
	maxDeliveries   int

	republishAttempts int
	republishBackoff  time.Duration
	sleep             func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	stuck   map[topicPartition]int64
	restart func()
}

type topicPartition struct {
	topic     string
	partition int32
}

func newSettler(r Republisher, retryTopic, deadLetterTopic string, maxDeliveries int) *settler {
	return &settler{
		republisher:       r,
		retryTopic:        retryTopic,
		deadLetterTopic:   deadLetterTopic,
		maxDeliveries:     maxDeliveries,
		republishAttempts: 3,
		republishBackoff:  time.Second,
		sleep:             sleepCtx,
		stuck:             make(map[topicPartition]int64),
	}
}

func (s *settler) setRestart(restart func()) {
	s.mu.Lock()
	s.restart = restart
	s.mu.Unlock()
}

// reset forgets stuck partitions; a new session starts from committed
// offsets.
func (s *settler) reset() {
	s.mu.Lock()
	s.stuck = make(map[topicPartition]int64)
	s.mu.Unlock()
}

func (s *settler) doneFunc(ctx context.Context, marker offsetMarker, msg *sarama.ConsumerMessage, attempt int) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() { s.settle(ctx, marker, msg, attempt, err) })
	}
}

func (s *settler) settle(ctx context.Context, marker offsetMarker, msg *sarama.ConsumerMessage, attempt int, handleErr error) {
	if handleErr == nil {
		s.mark(marker, msg)
		return
	}

	topic := s.retryTopic
	if topic == "" || (s.maxDeliveries > 0 && attempt >= s.maxDeliveries) {
		topic = s.deadLetterTopic
	}
	if topic == "" {
		log.Printf("Kafka message %s/%d/%d failed with no retry topic: %v", msg.Topic, msg.Partition, msg.Offset, handleErr)
		s.rewind(marker, msg)
		return
	}

	out := Message{
		Topic: topic,
		Key:   string(msg.Key),
		Value: msg.Value,
		Headers: map[string]string{
			AttemptHeader: strconv.Itoa(attempt + 1),
			"x-error":     truncate(handleErr.Error(), 512),
			"x-origin":    fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		},
	}
	if err := s.republish(ctx, out); err != nil {
		log.Printf("Failed to republish message %s to %s: %v", string(msg.Key), topic, err)
		s.rewind(marker, msg)
		return
	}
	log.Printf("Message %s failed on attempt %d, moved to %s: %v", string(msg.Key), attempt, topic, handleErr)
	s.mark(marker, msg)
}

func (s *settler) republish(ctx context.Context, out Message) error {
	attempts := s.republishAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if serr := s.sleep(ctx, s.republishBackoff*time.Duration(i)); serr != nil {
				return err
			}
		}
		if err = s.republisher.Publish(ctx, out); err == nil {
			return nil
		}
	}
	return err
}

// mark commits msg unless its partition is stuck behind an unparked message.
func (s *settler) mark(marker offsetMarker, msg *sarama.ConsumerMessage) {
	s.mu.Lock()
	first, stuck := s.stuck[topicPartition{msg.Topic, msg.Partition}]
	s.mu.Unlock()
	if stuck && msg.Offset > first {
		log.Printf("Kafka message %s/%d/%d not committed: partition is waiting on offset %d",
			msg.Topic, msg.Partition, msg.Offset, first)
		return
	}
	marker.MarkMessage(msg, "")
}

// rewind leaves msg uncommitted, stops commits past it and restarts the
// session.
func (s *settler) rewind(marker offsetMarker, msg *sarama.ConsumerMessage) {
	tp := topicPartition{msg.Topic, msg.Partition}
	s.mu.Lock()
	if first, ok := s.stuck[tp]; !ok || msg.Offset < first {
		s.stuck[tp] = msg.Offset
	}
	restart := s.restart
	s.mu.Unlock()

	marker.ResetOffset(msg.Topic, msg.Partition, msg.Offset, "")
	if restart != nil {
		restart()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func deliveryOf(m *sarama.ConsumerMessage) Delivery {
	d := Delivery{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Attempt:   1,
	}
	for _, h := range m.Headers {
		if h == nil || string(h.Key) != AttemptHeader {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
			d.Attempt = n
		}
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// TypedMessageHandler is a generic helper that decodes JSON payloads
// T is the message type (e.g., types.ParseJobMessage)
type TypedMessageHandler[T any] struct {
	// Validate rejects messages missing required fields
	Validate func(msg *T) error
	// Process handles the decoded message and settles it through done
	Process func(ctx context.Context, msg *T, done func(error))
	// Reject settles undecodable or invalid messages. It must settle in the
	// same order as Process; nil calls done directly.
	Reject func(ctx context.Context, err error, done func(error))
}

// HandleMessage implements MessageHandler interface. Undecodable or invalid
// bodies fail like any other error, so a bad deploy heals on retry and a
// truly malformed message ends in the dead-letter topic.
func (h *TypedMessageHandler[T]) HandleMessage(ctx context.Context, d Delivery, done func(error)) {
	var msg T
	if err := json.Unmarshal(d.Value, &msg); err != nil {
		h.reject(ctx, fmt.Errorf("malformed message: %w", err), done)
		return
	}

	if h.Validate != nil {
		if err := h.Validate(&msg); err != nil {
			h.reject(ctx, fmt.Errorf("invalid message: %w", err), done)
			return
		}
	}

	h.Process(ctx, &msg, done)
}

func (h *TypedMessageHandler[T]) reject(ctx context.Context, err error, done func(error)) {
	if h.Reject == nil {
		done(err)
		return
	}
	h.Reject(ctx, err, done)
}
