package clock

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu       sync.Mutex
	reports  []*Report
	commands []CommandRecord
	flushed  int

	onTick func(r *Report)
}

func (s *recordingSink) RecordTick(_ context.Context, r *Report) error {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
	if s.onTick != nil {
		s.onTick(r)
	}
	return nil
}

func (s *recordingSink) commandLog() []CommandRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CommandRecord(nil), s.commands...)
}

func (s *recordingSink) RecordCommand(_ context.Context, rec CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, rec)
	return nil
}

func (s *recordingSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed++
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestClock_RunsAllIntervals(t *testing.T) {
	h, counters := newTestHost(t, "a")
	sink := &recordingSink{}
	c := New(h, NewQueue(), Config{Intervals: 5, RecordStates: true})
	c.SetSink(sink)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if counters["a"].ticks != 5 {
		t.Errorf("ticks = %d, want 5", counters["a"].ticks)
	}
	if h.Time() != 300 || c.Remaining() != 0 {
		t.Errorf("time = %d remaining = %d, want 300 0", h.Time(), c.Remaining())
	}
	if len(sink.reports) != 5 || sink.flushed != 1 {
		t.Fatalf("reports = %d flushed = %d", len(sink.reports), sink.flushed)
	}
	last := sink.reports[4]
	if last.Time != 240 || last.Next != 300 || last.Tick != 5 || last.Remaining != 0 {
		t.Errorf("last report = %+v", last)
	}
	if len(last.States) != 1 || last.States[0].Name != "a" {
		t.Errorf("last report states = %+v", last.States)
	}

	select {
	case <-c.Done():
	default:
		t.Error("Done() not closed after Run()")
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v", err)
	}
}

func TestClock_StepAppliesCommandsBeforeTick(t *testing.T) {
	h, counters := newTestHost(t, "a")
	q := NewQueue()
	sink := &recordingSink{}
	c := New(h, q, Config{Intervals: 10, RecordCommands: true})
	c.SetSink(sink)

	q.SubmitBatch([]Command{
		NewCommand(KindSetVar, "a", "value", json.RawMessage(`2`)),
		NewCommand(KindCallFunction, "a", "bump", nil),
		NewCommand(KindSetVar, "ghost", "value", json.RawMessage(`1`)),
	})

	r, err := c.Step(context.Background())
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if counters["a"].value != 3 {
		t.Errorf("value = %v, want 3", counters["a"].value)
	}
	if r.Tick != 1 || r.Remaining != 9 {
		t.Errorf("report = %+v", r)
	}

	if len(sink.commands) != 3 {
		t.Fatalf("recorded commands = %d, want 3", len(sink.commands))
	}
	if !sink.commands[0].Applied || sink.commands[1].Result != 3.0 {
		t.Errorf("applied records = %+v", sink.commands[:2])
	}
	dropped := sink.commands[2]
	if dropped.Applied || dropped.Error == "" || dropped.Tick != 0 {
		t.Errorf("dropped record = %+v", dropped)
	}
}

func TestClock_ErrorPolicy(t *testing.T) {
	t.Run("continue", func(t *testing.T) {
		h, counters := newTestHost(t, "a")
		counters["a"].fail = errors.New("flaky")
		c := New(h, NewQueue(), Config{Intervals: 3})
		if err := c.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if counters["a"].ticks != 3 {
			t.Errorf("ticks = %d, want 3", counters["a"].ticks)
		}
	})

	t.Run("abort", func(t *testing.T) {
		h, counters := newTestHost(t, "a")
		counters["a"].fail = errors.New("flaky")
		sink := &recordingSink{}
		c := New(h, NewQueue(), Config{Intervals: 3, Policy: PolicyAbort})
		c.SetSink(sink)
		err := c.Run(context.Background())
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("Run() error = %v, want ErrAborted", err)
		}
		if counters["a"].ticks != 1 || !errors.Is(c.Err(), ErrAborted) {
			t.Errorf("ticks = %d err = %v", counters["a"].ticks, c.Err())
		}
		if len(sink.reports) != 1 || len(sink.reports[0].Failures) != 1 || sink.flushed != 1 {
			t.Errorf("sink = %d reports, %d flushes", len(sink.reports), sink.flushed)
		}
	})
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]ErrorPolicy{"": PolicyContinue, "continue": PolicyContinue, "abort": PolicyAbort} {
		if got, err := ParsePolicy(in); err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("retry"); err == nil {
		t.Error("ParsePolicy(retry) error = nil")
	}
}

func TestClock_PauseKeepsApplyingCommands(t *testing.T) {
	h, _ := newTestHost(t, "a")
	q := NewQueue()
	c := New(h, q, Config{Intervals: 1 << 20, Delay: time.Millisecond})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(time.Second)

	waitFor(t, "first ticks", func() bool { return h.Tick() >= 2 })
	if !c.Pause() {
		t.Fatal("Pause() = false")
	}
	if c.Pause() {
		t.Error("second Pause() = true")
	}

	frozen := h.Tick()
	time.Sleep(30 * time.Millisecond)
	if h.Tick() != frozen {
		t.Fatalf("tick moved while paused: %d -> %d", frozen, h.Tick())
	}

	q.Submit(NewCommand(KindSetVar, "a", "value", json.RawMessage(`9`)))
	waitFor(t, "command applied while paused", func() bool {
		v, err := h.GetVar("a", "value")
		return err == nil && v == 9.0
	})
	if h.Tick() != frozen {
		t.Errorf("command application advanced time")
	}

	if !c.Resume() {
		t.Fatal("Resume() = false")
	}
	if c.Resume() {
		t.Error("second Resume() = true")
	}
	waitFor(t, "ticks after resume", func() bool { return h.Tick() > frozen })

	if !c.Stop(time.Second) {
		t.Error("Stop() not confirmed")
	}
	if c.Running() {
		t.Error("Running() = true after Stop()")
	}
}

func TestClock_SetTimeFastForwardsWhilePaused(t *testing.T) {
	h, _ := newTestHost(t, "a")
	c := New(h, NewQueue(), Config{Intervals: 100, Delay: time.Hour})
	c.Pause()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(time.Second)

	if err := c.SetTime(context.Background(), 0); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("SetTime(now) error = %v, want ErrInvalidTarget", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SetTime(ctx, 600); err != nil {
		t.Fatalf("SetTime() error = %v", err)
	}
	if h.Time() != 600 {
		t.Errorf("time = %d, want 600", h.Time())
	}
	if !c.Paused() {
		t.Error("pause lost after fast-forward")
	}

	time.Sleep(20 * time.Millisecond)
	if h.Tick() != 10 {
		t.Errorf("tick = %d, want 10 and frozen", h.Tick())
	}
}

func TestClock_FinishReleasesWaiters(t *testing.T) {
	h, _ := newTestHost(t, "a")
	c := New(h, NewQueue(), Config{Intervals: 3})
	c.Pause()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SetTime(ctx, 6000); !errors.Is(err, ErrStopped) {
		t.Errorf("SetTime() error = %v, want ErrStopped", err)
	}
	<-c.Done()
	if h.Tick() != 3 {
		t.Errorf("tick = %d, want 3", h.Tick())
	}
	if err := c.SetTime(ctx, 9000); !errors.Is(err, ErrStopped) {
		t.Errorf("SetTime() after finish error = %v", err)
	}
}

func TestClock_StopBeforeStart(t *testing.T) {
	h, _ := newTestHost(t)
	c := New(h, NewQueue(), Config{Intervals: 5})
	if !c.Stop(10 * time.Millisecond) {
		t.Error("Stop() before Start() = false")
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.Tick() != 0 {
		t.Errorf("tick = %d, want 0 after early stop", h.Tick())
	}
}

func TestClock_ContextCancelStopsRun(t *testing.T) {
	h, _ := newTestHost(t, "a")
	c := New(h, NewQueue(), Config{Intervals: 1 << 20, Delay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	waitFor(t, "ticks", func() bool { return h.Tick() > 0 })
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestClock_PauseHoldsTimeOnReturn(t *testing.T) {
	h, _ := newTestHost(t, "a")
	c := New(h, NewQueue(), Config{Intervals: 1 << 30})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(time.Second)

	for i := 0; i < 50; i++ {
		last := h.Tick()
		waitFor(t, "ticks", func() bool { return h.Tick() > last })
		if !c.Pause() {
			t.Fatalf("round %d: Pause() = false", i)
		}
		frozen := h.Tick()
		time.Sleep(2 * time.Millisecond)
		if got := h.Tick(); got != frozen {
			t.Fatalf("round %d: tick moved after Pause returned: %d -> %d", i, frozen, got)
		}
		c.Resume()
	}
}

func TestClock_ConcurrentSubmissionsApplyInQueueOrder(t *testing.T) {
	const (
		writers   = 8
		perWriter = 50
	)
	h, _ := newTestHost(t, "a")
	q := NewQueue()
	sink := &recordingSink{}
	c := New(h, q, Config{Intervals: 1 << 20, Delay: time.Millisecond, RecordCommands: true})
	c.SetSink(sink)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				v := strconv.Itoa(w*1000 + i)
				if i%2 == 0 {
					q.Submit(NewCommand(KindSetVar, "a", "value", json.RawMessage(v)))
				} else {
					q.Submit(NewCommand(KindCallFunction, "a", "bump", nil))
				}
			}
		}()
	}
	wg.Wait()
	waitFor(t, "all commands applied", func() bool { return len(sink.commandLog()) == writers*perWriter })
	if !c.Stop(time.Second) {
		t.Fatal("Stop() not confirmed")
	}

	// Replaying the applied sequence on a fresh host must reproduce the
	// state and every result.
	replay, _ := newTestHost(t, "a")
	for i, rec := range sink.commandLog() {
		if !rec.Applied {
			t.Fatalf("command %d not applied: %s", i, rec.Error)
		}
		got, err := Apply(replay, rec.Command)
		if err != nil {
			t.Fatalf("replay %d error = %v", i, err)
		}
		if rec.Command.Kind == KindCallFunction && got != rec.Result {
			t.Errorf("replay %d result = %v, live %v", i, got, rec.Result)
		}
	}
	live, _ := h.GetVar("a", "value")
	want, _ := replay.GetVar("a", "value")
	if live != want {
		t.Errorf("value = %v, replay gives %v", live, want)
	}
}

func TestClock_FastForwardAppliesQueuedCommandsBetweenTicks(t *testing.T) {
	h, _ := newTestHost(t, "a")
	q := NewQueue()
	sink := &recordingSink{}
	sink.onTick = func(r *Report) {
		q.SubmitBatch([]Command{
			NewCommand(KindSetVar, "a", "value", json.RawMessage(strconv.FormatUint(r.Tick*10, 10))),
			NewCommand(KindCallFunction, "a", "bump", nil),
		})
	}
	c := New(h, q, Config{Intervals: 100, Delay: time.Hour, RecordCommands: true})
	c.SetSink(sink)
	c.Pause()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SetTime(ctx, 600); err != nil {
		t.Fatalf("SetTime() error = %v", err)
	}

	// Commands queued by tick k are applied before tick k+1, in order.
	log := sink.commandLog()
	if len(log) < 18 {
		t.Fatalf("applied %d commands, want at least 18", len(log))
	}
	for k := 1; k <= 9; k++ {
		set, bump := log[2*(k-1)], log[2*(k-1)+1]
		if set.Command.Kind != KindSetVar || bump.Command.Kind != KindCallFunction {
			t.Fatalf("tick %d: order = %s, %s", k, set.Command.Kind, bump.Command.Kind)
		}
		if set.Tick != uint64(k) || bump.Tick != uint64(k) || set.Time != int64(k)*60 {
			t.Errorf("tick %d: applied at tick %d/%d time %d", k, set.Tick, bump.Tick, set.Time)
		}
		if bump.Result != float64(k*10+1) {
			t.Errorf("tick %d: bump result = %v, want %d", k, bump.Result, k*10+1)
		}
	}
}

func TestClock_SetTimeLandsOnNextBoundary(t *testing.T) {
	tests := []struct {
		target   int64
		wantTime int64
		wantTick uint64
	}{
		{target: 60, wantTime: 60, wantTick: 1},
		{target: 61, wantTime: 120, wantTick: 2},
		{target: 90, wantTime: 120, wantTick: 2},
		{target: 119, wantTime: 120, wantTick: 2},
		{target: 121, wantTime: 180, wantTick: 3},
	}

	for _, tt := range tests {
		t.Run(strconv.FormatInt(tt.target, 10), func(t *testing.T) {
			h, _ := newTestHost(t, "a")
			c := New(h, NewQueue(), Config{Intervals: 100, Delay: time.Hour})
			c.Pause()
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			defer c.Stop(time.Second)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.SetTime(ctx, tt.target); err != nil {
				t.Fatalf("SetTime(%d) error = %v", tt.target, err)
			}
			if h.Time() != tt.wantTime || h.Tick() != tt.wantTick {
				t.Errorf("SetTime(%d) landed at time %d tick %d, want %d %d",
					tt.target, h.Time(), h.Tick(), tt.wantTime, tt.wantTick)
			}
		})
	}
}
