package clock

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/device"
	"github.com/nerrad567/gray-logic-sim/internal/host"
)

// counter counts its ticks and exposes one writable variable.
type counter struct {
	device.Base
	ticks int
	value float64
	peer  string
	fail  error
}

func newCounter(name string) *counter {
	c := &counter{Base: device.NewBase(name, device.KindMeter, device.PhaseDevice)}
	c.Expose("value", &c.value)
	c.Expose("ticks", &c.ticks, device.ReadOnly())
	c.Handle("bump", func(json.RawMessage) (any, error) {
		c.value++
		return c.value, nil
	})
	c.Linkable("peer", func(target device.Entity) error {
		c.peer = target.Name()
		return nil
	})
	return c
}

func (c *counter) Tick(int64, time.Duration) error {
	c.ticks++
	return c.fail
}

func newTestHost(t *testing.T, names ...string) (*host.Host, map[string]*counter) {
	t.Helper()
	h := host.New(host.Config{Start: 0, TimeBase: time.Minute})
	out := make(map[string]*counter, len(names))
	for _, n := range names {
		c := newCounter(n)
		if err := h.Add(c); err != nil {
			t.Fatalf("Add(%s) error = %v", n, err)
		}
		out[n] = c
	}
	h.SetFactory(func(typeName string, payload json.RawMessage) (device.Entity, error) {
		if typeName != "counter" {
			return nil, device.ErrUnknownEntityType
		}
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return newCounter(p.Name), nil
	})
	return h, out
}

func TestEnvelope_Command(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		want    Kind
	}{
		{"set var", `{"cmd":"setVar","entity":"a","name":"value","payload":3}`, nil, KindSetVar},
		{"call", `{"cmd":"callFunction","entity":"a","name":"bump"}`, nil, KindCallFunction},
		{"remove", `{"cmd":"removeObj","entity":"a"}`, nil, KindRemoveObj},
		{"unknown kind", `{"cmd":"explode","entity":"a"}`, ErrUnknownCommand, ""},
		{"raw not allowed", `{"cmd":"raw","payload":{}}`, ErrUnknownCommand, ""},
		{"missing name", `{"cmd":"setVar","entity":"a","payload":1}`, ErrInvalidCommand, ""},
		{"create without payload", `{"cmd":"createObj","name":"counter"}`, ErrInvalidCommand, ""},
		{"unknown field", `{"cmd":"setVar","entity":"a","name":"v","value":1}`, ErrInvalidCommand, ""},
		{"not json", `setVar a v 1`, ErrInvalidCommand, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.input))
			var cmd Command
			if err == nil {
				cmd, err = env.Command()
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Kind != tt.want || cmd.ID == "" {
				t.Errorf("command = %+v", cmd)
			}
		})
	}
}

func TestDecodeBatch_AllOrNothing(t *testing.T) {
	good := `[{"cmd":"setVar","entity":"a","name":"value","payload":1},{"cmd":"callFunction","entity":"a","name":"bump"}]`
	cmds, err := DecodeBatch([]byte(good))
	if err != nil {
		t.Fatalf("DecodeBatch() error = %v", err)
	}
	if len(cmds) != 2 || cmds[0].Kind != KindSetVar || cmds[1].Kind != KindCallFunction {
		t.Errorf("DecodeBatch() = %+v", cmds)
	}

	bad := `[{"cmd":"setVar","entity":"a","name":"value","payload":1},{"cmd":"nope"}]`
	if cmds, err := DecodeBatch([]byte(bad)); !errors.Is(err, ErrUnknownCommand) || cmds != nil {
		t.Errorf("DecodeBatch(bad) = %v, %v", cmds, err)
	}
	if _, err := DecodeBatch([]byte(`{"cmd":"setVar"}`)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("DecodeBatch(object) error = %v", err)
	}
}

func TestApply(t *testing.T) {
	h, counters := newTestHost(t, "a", "b")

	if _, err := Apply(h, NewCommand(KindSetVar, "a", "value", json.RawMessage(`41`))); err != nil {
		t.Fatalf("setVar error = %v", err)
	}
	got, err := Apply(h, NewCommand(KindCallFunction, "a", "bump", nil))
	if err != nil || got != 42.0 {
		t.Errorf("callFunction = %v, %v; want 42", got, err)
	}

	if _, err := Apply(h, NewCommand(KindSetObj, "a", "peer", json.RawMessage(`"b"`))); err != nil {
		t.Fatalf("setObj error = %v", err)
	}
	if counters["a"].peer != "b" {
		t.Errorf("peer = %q, want b", counters["a"].peer)
	}
	if _, err := Apply(h, NewCommand(KindSetObj, "a", "peer", json.RawMessage(`b`))); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("setObj(bad payload) error = %v", err)
	}

	name, err := Apply(h, NewCommand(KindCreateObj, "", "counter", json.RawMessage(`{"name":"c"}`)))
	if err != nil || name != "c" {
		t.Fatalf("createObj = %v, %v", name, err)
	}
	if _, ok := h.Entity("c"); !ok {
		t.Error("created entity not live")
	}

	if ok, err := Apply(h, NewCommand(KindRemoveObj, "c", "", nil)); err != nil || ok != true {
		t.Errorf("removeObj = %v, %v", ok, err)
	}
	if _, err := Apply(h, NewCommand(KindRemoveObj, "c", "", nil)); err == nil {
		t.Error("removeObj(missing) error = nil")
	}

	if _, err := Apply(h, NewCommand(KindSetVar, "a", "ticks", json.RawMessage(`3`))); !errors.Is(err, device.ErrReadOnly) {
		t.Errorf("setVar(read-only) error = %v", err)
	}
	if _, err := Apply(h, NewCommand(KindSetVar, "zz", "value", json.RawMessage(`3`))); !errors.Is(err, host.ErrEntityNotFound) {
		t.Errorf("setVar(missing entity) error = %v", err)
	}
}

func TestApply_Raw(t *testing.T) {
	h, counters := newTestHost(t, "a")

	if _, err := Apply(h, Raw([]byte(`{"cmd":"setVar","entity":"a","name":"value","payload":7}`))); err != nil {
		t.Fatalf("raw setVar error = %v", err)
	}
	if counters["a"].value != 7 {
		t.Errorf("value = %v, want 7", counters["a"].value)
	}
	if _, err := Apply(h, Raw([]byte(`{"cmd":"launch"}`))); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("raw unknown error = %v", err)
	}
	if _, err := Apply(h, Raw([]byte(`{{`))); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("raw malformed error = %v", err)
	}
}

func TestQueue_FIFOAndBatch(t *testing.T) {
	q := NewQueue()
	q.Submit(NewCommand(KindRemoveObj, "1", "", nil))
	q.SubmitBatch([]Command{
		NewCommand(KindRemoveObj, "2", "", nil),
		NewCommand(KindRemoveObj, "3", "", nil),
	})
	q.SubmitBatch(nil)
	q.Submit(NewCommand(KindRemoveObj, "4", "", nil))

	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}
	select {
	case <-q.Notify():
	default:
		t.Error("Notify() did not fire")
	}

	got := q.Drain()
	for i, cmd := range got {
		if want := string(rune('1' + i)); cmd.Target != want {
			t.Errorf("Drain()[%d].Target = %s, want %s", i, cmd.Target, want)
		}
	}
	if q.Len() != 0 || len(q.Drain()) != 0 {
		t.Error("queue not empty after Drain()")
	}
}
