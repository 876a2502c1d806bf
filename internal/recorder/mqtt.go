package recorder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/mqtt"
)

// Publisher is the part of the MQTT client the recorder uses.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishBatch(msgs []mqtt.Message) error
	Topics() mqtt.Topics
	QoS() byte
}

// tickSummary is the message on the tick topic.
type tickSummary struct {
	Tick      uint64 `json:"tick"`
	Time      int64  `json:"time"`
	Next      int64  `json:"next"`
	Remaining int    `json:"remaining"`
	Failures  int    `json:"failures"`
}

// MQTTSink publishes a summary of every tick and, when states are
// recorded, each entity's state as a retained message.
type MQTTSink struct {
	pub    Publisher
	logger Logger
	warned bool
}

// NewMQTTSink returns a sink publishing through pub.
func NewMQTTSink(pub Publisher, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSink{pub: pub, logger: logger}
}

// RecordTick implements clock.Sink. A disconnected broker is logged once
// and otherwise ignored so the run does not depend on it.
func (s *MQTTSink) RecordTick(_ context.Context, r *clock.Report) error {
	topics := s.pub.Topics()
	summary, err := json.Marshal(tickSummary{
		Tick: r.Tick, Time: r.Time, Next: r.Next, Remaining: r.Remaining, Failures: len(r.Failures),
	})
	if err != nil {
		return fmt.Errorf("encoding tick summary: %w", err)
	}
	if err := s.pub.Publish(topics.Tick(), summary, s.pub.QoS(), false); err != nil {
		s.dropped(err)
		return nil
	}

	if len(r.States) > 0 {
		msgs := make([]mqtt.Message, 0, len(r.States))
		for _, st := range r.States {
			payload, err := json.Marshal(st)
			if err != nil {
				return fmt.Errorf("encoding %s state: %w", st.Name, err)
			}
			msgs = append(msgs, mqtt.Message{Topic: topics.EntityState(st.Name), Payload: payload, Retained: true})
		}
		if err := s.pub.PublishBatch(msgs); err != nil {
			s.dropped(err)
			return nil
		}
	}
	s.warned = false
	return nil
}

// RecordCommand implements clock.Sink.
func (s *MQTTSink) RecordCommand(_ context.Context, rec clock.CommandRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding command record: %w", err)
	}
	if err := s.pub.Publish(s.pub.Topics().CommandLog(), payload, s.pub.QoS(), false); err != nil {
		s.dropped(err)
	}
	return nil
}

// Flush implements clock.Sink.
func (s *MQTTSink) Flush(context.Context) error { return nil }

func (s *MQTTSink) dropped(err error) {
	if s.warned {
		return
	}
	s.warned = true
	s.logger.Warn("mqtt publish failed, skipping until it recovers", "error", err)
}
