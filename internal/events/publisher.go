// Package events publishes per-query telemetry to Kafka for the external
// observer. The publisher is optional; a nil *Publisher is a no-op.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"orion/internal/config"
	"orion/internal/observability"
)

// QueryEvent is one completed assistant query.
type QueryEvent struct {
	TraceID            string `json:"trace_id"`
	TenantID           string `json:"tenant_id"`
	ToolSteps          int    `json:"tool_steps"`
	RetrievalLatencyMS int64  `json:"retrieval_latency_ms"`
	LLMLatencyMS       int64  `json:"llm_latency_ms"`
	AnswerLength       int    `json:"answer_length"`
	SafetyInput        string `json:"safety_input"`
	SafetyOutput       string `json:"safety_output"`
	Timestamp          int64  `json:"ts"`
}

// Publisher writes query events to the telemetry topic.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher builds the Kafka publisher, or nil when no brokers are
// configured.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	if len(cfg.Brokers) == 0 || cfg.TelemetryTopic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TelemetryTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
	}
	return &Publisher{writer: writer}
}

// Publish enqueues one event. Failures are logged and dropped; telemetry
// never fails a request.
func (p *Publisher) Publish(ctx context.Context, event QueryEvent) {
	if p == nil || p.writer == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TenantID),
		Value: value,
	}); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("telemetry_publish_failed")
	}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
