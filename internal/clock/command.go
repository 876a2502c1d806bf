package clock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-sim/internal/device"
)

// Kind names what a command does when applied.
type Kind string

// Command kinds.
const (
	KindCallFunction Kind = "callFunction"
	KindSetVar       Kind = "setVar"
	KindSetObj       Kind = "setObj"
	KindCreateObj    Kind = "createObj"
	KindRemoveObj    Kind = "removeObj"
	KindRaw          Kind = "raw"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCallFunction, KindSetVar, KindSetObj, KindCreateObj, KindRemoveObj, KindRaw:
		return true
	}
	return false
}

// Command is one mutation queued for application between two ticks.
//
// Field use per kind:
//
//	callFunction  Target, Name = function, Payload = arguments
//	setVar        Target, Name = variable, Payload = value
//	setObj        Target, Name = reference slot, Payload = target entity name (JSON string)
//	createObj     Name = type tag, Payload = entity declaration
//	removeObj     Target
//	raw           Payload = undecoded Envelope
type Command struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"cmd"`
	Target    string          `json:"entity,omitempty"`
	Name      string          `json:"name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Submitted time.Time       `json:"submitted"`
}

// NewCommand returns a command with a fresh id.
func NewCommand(kind Kind, target, name string, payload json.RawMessage) Command {
	return Command{
		ID:        uuid.NewString(),
		Kind:      kind,
		Target:    target,
		Name:      name,
		Payload:   payload,
		Submitted: time.Now(),
	}
}

// Raw wraps an undecoded envelope; it is decoded when applied.
func Raw(data []byte) Command {
	return NewCommand(KindRaw, "", "", json.RawMessage(bytes.Clone(data)))
}

// Envelope is the wire form of a command as accepted on the control
// surface and the MQTT command topic:
//
//	{"cmd": "setVar", "entity": "battery-1", "name": "target", "payload": 2000}
type Envelope struct {
	Cmd     string          `json:"cmd"`
	Entity  string          `json:"entity,omitempty"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command converts the envelope into a queued command.
func (e Envelope) Command() (Command, error) {
	kind := Kind(e.Cmd)
	if !kind.Valid() || kind == KindRaw {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, e.Cmd)
	}
	cmd := NewCommand(kind, e.Entity, e.Name, e.Payload)
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// DecodeEnvelope parses one envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	return env, nil
}

// DecodeBatch parses a JSON array of envelopes into commands. Any invalid
// element rejects the whole batch.
func DecodeBatch(data []byte) ([]Command, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: batch: %w", ErrInvalidCommand, err)
	}
	cmds := make([]Command, 0, len(raw))
	for i, item := range raw {
		env, err := DecodeEnvelope(item)
		if err != nil {
			return nil, fmt.Errorf("batch[%d]: %w", i, err)
		}
		cmd, err := env.Command()
		if err != nil {
			return nil, fmt.Errorf("batch[%d]: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Validate checks the fields a kind needs.
func (c Command) Validate() error {
	switch c.Kind {
	case KindCallFunction, KindSetVar, KindSetObj:
		if c.Target == "" || c.Name == "" {
			return fmt.Errorf("%w: %s needs an entity and a name", ErrInvalidCommand, c.Kind)
		}
	case KindCreateObj:
		if c.Name == "" || len(c.Payload) == 0 {
			return fmt.Errorf("%w: createObj needs a type name and a payload", ErrInvalidCommand)
		}
	case KindRemoveObj:
		if c.Target == "" {
			return fmt.Errorf("%w: removeObj needs an entity", ErrInvalidCommand)
		}
	case KindRaw:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
	return nil
}

// Target is the part of the host commands are applied to.
type Target interface {
	CallFunction(name, fn string, args json.RawMessage) (any, error)
	SetVar(name, v string, value any) (bool, error)
	SetObj(name, v, targetName string) (bool, error)
	CreateObject(typeName string, payload json.RawMessage) (device.Entity, error)
	RemoveObject(name string) bool
}

// Apply executes cmd against t and returns the operation's result.
func Apply(t Target, cmd Command) (any, error) {
	if cmd.Kind == KindRaw {
		env, err := DecodeEnvelope(cmd.Payload)
		if err != nil {
			return nil, err
		}
		inner, err := env.Command()
		if err != nil {
			return nil, err
		}
		inner.ID = cmd.ID
		return Apply(t, inner)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	switch cmd.Kind {
	case KindCallFunction:
		return t.CallFunction(cmd.Target, cmd.Name, cmd.Payload)
	case KindSetVar:
		if len(cmd.Payload) == 0 {
			return nil, fmt.Errorf("%w: setVar without a value", ErrInvalidCommand)
		}
		return t.SetVar(cmd.Target, cmd.Name, cmd.Payload)
	case KindSetObj:
		var targetName string
		if err := json.Unmarshal(cmd.Payload, &targetName); err != nil {
			return nil, fmt.Errorf("%w: setObj target: %w", ErrInvalidCommand, err)
		}
		return t.SetObj(cmd.Target, cmd.Name, targetName)
	case KindCreateObj:
		e, err := t.CreateObject(cmd.Name, cmd.Payload)
		if err != nil {
			return nil, err
		}
		return e.Name(), nil
	case KindRemoveObj:
		if !t.RemoveObject(cmd.Target) {
			return false, fmt.Errorf("removeObj: entity %s not found", cmd.Target)
		}
		return true, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
}
