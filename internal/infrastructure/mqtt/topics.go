package mqtt

import "strings"

// DefaultTopicPrefix is used when the config leaves topic_prefix empty.
const DefaultTopicPrefix = "graysim"

// Topics builds graysim MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("lab-a")
//	topics.EntityState("battery-1") // "lab-a/state/battery-1"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix, trimming slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the resolved prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Status is the retained online/offline topic (also the LWT topic).
func (t Topics) Status() string { return t.Prefix() + "/status" }

// Tick carries one summary message per simulated tick.
func (t Topics) Tick() string { return t.Prefix() + "/tick" }

// EntityState carries the retained state of one entity.
func (t Topics) EntityState(entity string) string {
	return t.Prefix() + "/state/" + sanitiseLevel(entity)
}

// AllEntityStates matches every entity state topic.
func (t Topics) AllEntityStates() string { return t.Prefix() + "/state/#" }

// Command accepts a single command document.
func (t Topics) Command() string { return t.Prefix() + "/command" }

// CommandBatch accepts an ordered list of commands applied in one drain.
func (t Topics) CommandBatch() string { return t.Prefix() + "/command/batch" }

// CommandLog carries one record per drained command, applied or dropped.
func (t Topics) CommandLog() string { return t.Prefix() + "/command/log" }

// sanitiseLevel keeps an entity name from introducing extra topic levels
// or wildcards.
func sanitiseLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
