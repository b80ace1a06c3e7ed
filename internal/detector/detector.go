// Package detector forwards every intercepted message to the out-of-scope
// downstream detection pipeline for asynchronous NLP/behavioral analysis
// (SPEC_FULL.md §3). It is fire-and-forget and response-blind: nothing it
// does or fails to do changes the InterceptResult already sent to the
// caller. Grounded on the teacher's pkg/infra/telemetry/kafka/exporter.go
// (confluent-kafka-go producer, delivery-channel Produce/wait pattern),
// generalized from a generic telemetry.Exporter plugin to a single-purpose
// forwarder for one topic and one payload shape.
package detector

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sirupsen/logrus"

	"github.com/neuraltrust/cis-interceptor/internal/metrics"
	"github.com/neuraltrust/cis-interceptor/internal/types"
)

const produceTimeout = 2 * time.Second

// Config addresses the downstream detector backend (spec.md §6 "backend
// host/port pairs for log and downstream detector").
type Config struct {
	Host  string
	Port  int
	Topic string
}

// Payload is the wire shape sent to the downstream detector: the raw
// message plus the ruleset version that scored it, so the offline
// classifier can correlate its own findings against Stage-1's decision.
type Payload struct {
	MessageID      string  `json:"message_id"`
	ThreadID       string  `json:"thread_id"`
	UserID         string  `json:"user_id"`
	Content        string  `json:"content"`
	Timestamp      string  `json:"timestamp"`
	RulesetVersion string  `json:"ruleset_version"`
	RiskScore      float64 `json:"risk_score"`
	Action         string  `json:"action"`
}

// Forwarder owns a single Kafka producer targeting one topic.
type Forwarder struct {
	log      *logrus.Logger
	producer *kafka.Producer
	topic    string
}

// New constructs a Forwarder. A construction failure is not fatal to the
// interceptor: the caller logs and runs without downstream forwarding,
// since this integration is explicitly out of the critical path.
func New(cfg Config, log *logrus.Logger) (*Forwarder, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	})
	if err != nil {
		return nil, fmt.Errorf("detector: failed to create kafka producer: %w", err)
	}
	return &Forwarder{log: log, producer: producer, topic: cfg.Topic}, nil
}

// ForwardAsync fires the produce call in its own goroutine and never
// surfaces its result to the caller; any error is logged and swallowed.
func (f *Forwarder) ForwardAsync(message types.ChatMessage, result types.InterceptResult, rulesetVersion string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.log.WithField("panic", r).Error("detector: recovered panic in forwardAsync")
			}
		}()
		if err := f.forward(message, result, rulesetVersion); err != nil {
			f.log.WithError(err).WithField("message_id", message.MessageID).Warn("detector: forward failed")
			metrics.DetectorForwardsTotal.WithLabelValues("error").Inc()
			return
		}
		metrics.DetectorForwardsTotal.WithLabelValues("forwarded").Inc()
	}()
}

func (f *Forwarder) forward(message types.ChatMessage, result types.InterceptResult, rulesetVersion string) error {
	payload := Payload{
		MessageID:      message.MessageID,
		ThreadID:       message.ThreadID,
		UserID:         message.UserID,
		Content:        message.Content,
		Timestamp:      message.Timestamp,
		RulesetVersion: rulesetVersion,
		RiskScore:      result.RiskScore,
		Action:         string(result.Action),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal detector payload: %w", err)
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := f.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &f.topic, Partition: kafka.PartitionAny},
		Value:          data,
	}, deliveryChan); err != nil {
		return fmt.Errorf("produce: %w", err)
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event type %T", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-time.After(produceTimeout):
		return fmt.Errorf("delivery confirmation timed out")
	}
}

// Close flushes outstanding deliveries and releases the producer.
func (f *Forwarder) Close() {
	if f.producer != nil {
		f.producer.Flush(5000)
		f.producer.Close()
	}
}
