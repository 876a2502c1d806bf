package api

import (
	"github.com/nerrad567/gray-logic-sim/internal/clock"
)

// subscribeCommands feeds the MQTT command topics into the composer's
// queue. Bad payloads are logged and dropped; the broker gets no reply.
func (s *Server) subscribeCommands() error {
	if s.mqtt == nil {
		return nil
	}
	topics := s.mqtt.Topics()
	qos := s.mqtt.QoS()

	if err := s.mqtt.Subscribe(topics.Command(), qos, s.onCommandMessage); err != nil {
		return err
	}
	if err := s.mqtt.Subscribe(topics.CommandBatch(), qos, s.onBatchMessage); err != nil {
		return err
	}
	s.logger.Info("subscribed to MQTT command topics",
		"command", topics.Command(), "batch", topics.CommandBatch())
	return nil
}

func (s *Server) unsubscribeCommands() {
	if s.mqtt == nil || !s.mqtt.IsConnected() {
		return
	}
	topics := s.mqtt.Topics()
	for _, t := range []string{topics.Command(), topics.CommandBatch()} {
		if err := s.mqtt.Unsubscribe(t); err != nil {
			s.logger.Debug("MQTT unsubscribe failed", "topic", t, "error", err)
		}
	}
}

func (s *Server) onCommandMessage(topic string, payload []byte) error {
	cmd, err := decodeCommand(payload)
	if err != nil {
		s.logger.Warn("dropping MQTT command", "topic", topic, "error", err)
		return nil
	}
	if err := s.composer.SubmitCommand(cmd); err != nil {
		s.logger.Warn("MQTT command rejected", "topic", topic, "id", cmd.ID, "error", err)
		return nil
	}
	s.logger.Debug("MQTT command queued", "id", cmd.ID, "cmd", cmd.Kind, "entity", cmd.Target)
	return nil
}

func (s *Server) onBatchMessage(topic string, payload []byte) error {
	cmds, err := clock.DecodeBatch(payload)
	if err != nil {
		s.logger.Warn("dropping MQTT command batch", "topic", topic, "error", err)
		return nil
	}
	if err := s.composer.SubmitBatch(cmds); err != nil {
		s.logger.Warn("MQTT command batch rejected", "topic", topic, "error", err)
		return nil
	}
	s.logger.Debug("MQTT command batch queued", "count", len(cmds))
	return nil
}
