package host

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/device"
)

// stubEntity records the order it was ticked in.
type stubEntity struct {
	device.Base
	log    *[]string
	value  float64
	fail   error
	panics bool
}

func newStub(name string, phase device.Phase, log *[]string) *stubEntity {
	s := &stubEntity{Base: device.NewBase(name, device.KindMeter, phase), log: log}
	s.Expose("value", &s.value)
	s.Handle("double", func(json.RawMessage) (any, error) {
		s.value *= 2
		return s.value, nil
	})
	s.Linkable("peer", func(target device.Entity) error {
		if target.Name() == "forbidden" {
			return device.ErrInvalidLink
		}
		return nil
	})
	return s
}

func (s *stubEntity) Tick(int64, time.Duration) error {
	if s.log != nil {
		*s.log = append(*s.log, s.Name())
	}
	if s.panics {
		panic("boom")
	}
	return s.fail
}

func newTestHost() *Host {
	return New(Config{Start: 1000, TimeBase: time.Minute})
}

func TestHost_AdvanceOrdersByPhase(t *testing.T) {
	h := newTestHost()
	var log []string
	for _, e := range []device.Entity{
		newStub("meter", device.PhaseMetering, &log),
		newStub("load-a", device.PhaseDevice, &log),
		newStub("weather", device.PhaseEnvironment, &log),
		newStub("load-b", device.PhaseDevice, &log),
		newStub("zone", device.PhasePhysics, &log),
	} {
		if err := h.Add(e); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	if failures := h.Advance(); len(failures) != 0 {
		t.Fatalf("Advance() failures = %v", failures)
	}

	want := []string{"weather", "load-a", "load-b", "zone", "meter"}
	if len(log) != len(want) {
		t.Fatalf("tick order = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("tick order = %v, want %v", log, want)
			break
		}
	}
	if h.Time() != 1060 || h.Tick() != 1 {
		t.Errorf("after Advance: time = %d tick = %d, want 1060 1", h.Time(), h.Tick())
	}

	names := h.ListEntityNames()
	if names[0] != "meter" || names[2] != "weather" {
		t.Errorf("ListEntityNames() = %v, want insertion order", names)
	}
}

func TestHost_AdvanceIsolatesFailures(t *testing.T) {
	h := newTestHost()
	var log []string
	bad := newStub("bad", device.PhaseDevice, &log)
	bad.fail = errors.New("sensor offline")
	crash := newStub("crash", device.PhaseDevice, &log)
	crash.panics = true
	good := newStub("good", device.PhaseDevice, &log)

	for _, e := range []device.Entity{bad, crash, good} {
		if err := h.Add(e); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	failures := h.Advance()
	if len(failures) != 2 {
		t.Fatalf("failures = %v, want 2", failures)
	}
	if failures[0].Entity != "bad" || failures[0].Panicked {
		t.Errorf("failures[0] = %+v", failures[0])
	}
	if failures[1].Entity != "crash" || !failures[1].Panicked {
		t.Errorf("failures[1] = %+v", failures[1])
	}
	if len(log) != 3 || log[2] != "good" {
		t.Errorf("healthy entity did not tick: %v", log)
	}
	if h.Tick() != 1 {
		t.Errorf("tick = %d, want 1 despite failures", h.Tick())
	}
}

func TestHost_DirectOperations(t *testing.T) {
	h := newTestHost()
	s := newStub("s", device.PhaseDevice, nil)
	if err := h.Add(s); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := h.Add(newStub("s", device.PhaseDevice, nil)); !errors.Is(err, ErrEntityExists) {
		t.Errorf("duplicate Add() error = %v, want ErrEntityExists", err)
	}

	if ok, err := h.SetVar("s", "value", "4"); !ok || err != nil {
		t.Fatalf("SetVar() = %v, %v", ok, err)
	}
	if got, err := h.CallFunction("s", "double", nil); err != nil || got != 8.0 {
		t.Errorf("CallFunction() = %v, %v; want 8", got, err)
	}
	if got, err := h.GetVar("s", "value"); err != nil || got != 8.0 {
		t.Errorf("GetVar() = %v, %v; want 8", got, err)
	}

	if _, err := h.GetVar("missing", "value"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetVar(missing) error = %v, want ErrEntityNotFound", err)
	}
	if _, err := h.GetVar("s", "missing"); !errors.Is(err, device.ErrVarNotFound) {
		t.Errorf("GetVar(var missing) error = %v, want device.ErrVarNotFound", err)
	}
	if _, err := h.CallFunction("s", "missing", nil); !errors.Is(err, device.ErrFunctionNotFound) {
		t.Errorf("CallFunction(missing) error = %v, want device.ErrFunctionNotFound", err)
	}
	if ok, err := h.SetVar("s", "value", "not-a-number"); ok || !errors.Is(err, device.ErrInvalidValue) {
		t.Errorf("SetVar(bad) = %v, %v; want false, ErrInvalidValue", ok, err)
	}

	if err := h.Add(newStub("forbidden", device.PhaseDevice, nil)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if ok, err := h.SetObj("s", "peer", "forbidden"); ok || err == nil {
		t.Errorf("SetObj(rejected) = %v, %v", ok, err)
	}
	if ok, err := h.SetObj("s", "peer", "nobody"); ok || !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("SetObj(missing target) = %v, %v", ok, err)
	}
}

func TestHost_CreateAndRemoveObject(t *testing.T) {
	h := newTestHost()
	if _, err := h.CreateObject("meter", nil); !errors.Is(err, ErrNoFactory) {
		t.Errorf("CreateObject() without factory error = %v", err)
	}

	h.SetFactory(func(typeName string, payload json.RawMessage) (device.Entity, error) {
		if typeName != "stub" {
			return nil, device.ErrUnknownEntityType
		}
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return newStub(p.Name, device.PhaseDevice, nil), nil
	})

	if _, err := h.CreateObject("spaceship", json.RawMessage(`{"name":"x"}`)); !errors.Is(err, device.ErrUnknownEntityType) {
		t.Errorf("CreateObject(unknown) error = %v", err)
	}
	e, err := h.CreateObject("stub", json.RawMessage(`{"name":"late"}`))
	if err != nil || e.Name() != "late" {
		t.Fatalf("CreateObject() = %v, %v", e, err)
	}
	if _, err := h.CreateObject("stub", json.RawMessage(`{"name":"late"}`)); !errors.Is(err, ErrEntityExists) {
		t.Errorf("CreateObject(clash) error = %v, want ErrEntityExists", err)
	}

	if !h.RemoveObject("late") {
		t.Error("RemoveObject() = false, want true")
	}
	if h.RemoveObject("late") {
		t.Error("second RemoveObject() = true, want false")
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestHost_DirectCallsNeverSeeHalfATick(t *testing.T) {
	h := newTestHost()
	a := newStub("a", device.PhaseDevice, nil)
	if err := h.Add(a); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Advance()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := h.SetVar("a", "value", i); err != nil {
				t.Errorf("SetVar() error = %v", err)
				return
			}
			if _, err := h.GetVar("a", "value"); err != nil {
				t.Errorf("GetVar() error = %v", err)
				return
			}
		}
	}()
	wg.Wait()

	if h.Tick() != 200 {
		t.Errorf("Tick() = %d, want 200", h.Tick())
	}
}

func TestHost_Snapshot(t *testing.T) {
	h := newTestHost()
	s := newStub("s", device.PhaseDevice, nil)
	if err := h.Add(s); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	h.SetVar("s", "value", 3) //nolint:errcheck // checked via snapshot

	snap := h.Snapshot()
	if len(snap) != 1 || snap[0].Name != "s" || snap[0].State["value"] != 3.0 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}
