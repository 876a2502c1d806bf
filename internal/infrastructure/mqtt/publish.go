package mqtt

import (
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one outbound publish.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Publish sends payload to topic and waits for the broker.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "graysim/state/battery-1")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// PublishBatch sends msgs at the configured QoS. Every message is handed
// to paho before any is waited on, so a tick's entity states cost one
// round trip rather than one per entity. Invalid messages are skipped and
// reported in the joined error with the delivery failures.
func (c *Client) PublishBatch(msgs []Message) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	qos := c.QoS()

	var errs []error
	tokens := make([]pahomqtt.Token, 0, len(msgs))
	topics := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if err := validatePublish(m.Topic, m.Payload, qos); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Topic, err))
			continue
		}
		tokens = append(tokens, c.client.Publish(m.Topic, qos, m.Retained, m.Payload))
		topics = append(topics, m.Topic)
	}
	for i, tok := range tokens {
		if err := await(tok, defaultPublishTimeout, ErrPublishFailed); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", topics[i], err))
		}
	}
	return errors.Join(errs...)
}

func validatePublish(topic string, payload []byte, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	return nil
}
