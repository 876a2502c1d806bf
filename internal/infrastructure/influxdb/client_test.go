package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
)

type fakeWriter struct {
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) { f.points = append(f.points, p) }
func (f *fakeWriter) Flush()                    { f.flushes++ }

type testPower struct{ re, im float64 }

func (p testPower) Parts() (float64, float64) { return p.re, p.im }

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := &Client{writeAPI: w}
	c.connected.Store(true)
	return c, w
}

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestNumericFields(t *testing.T) {
	got := NumericFields(map[string]any{
		"soc":         0.5,
		"capacity":    int64(10000),
		"curtailed":   true,
		"name":        "ignored",
		"consumption": testPower{re: 1200, im: -30},
		"commodities": map[string]any{"ELECTRICITY": testPower{re: 5, im: 0}, "NATGAS": 2.0},
	})

	want := map[string]any{
		"soc":                        0.5,
		"capacity":                   10000.0,
		"curtailed":                  1.0,
		"consumption_re":             1200.0,
		"consumption_im":             -30.0,
		"commodities_ELECTRICITY_re": 5.0,
		"commodities_ELECTRICITY_im": 0.0,
		"commodities_NATGAS":         2.0,
	}
	if len(got) != len(want) {
		t.Fatalf("NumericFields() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("NumericFields()[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestWriteEntityState(t *testing.T) {
	c, w := newTestClient()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	c.WriteEntityState("house1/", "battery-1", "battery", map[string]any{"soc": 0.25}, ts)
	c.WriteEntityState("house1/", "label", "weather", map[string]any{"note": "text only"}, ts)

	if len(w.points) != 1 {
		t.Fatalf("points written = %d, want 1 (non-numeric state skipped)", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementEntity {
		t.Errorf("measurement = %q, want %q", p.Name(), MeasurementEntity)
	}
	if !p.Time().Equal(ts) {
		t.Errorf("time = %v, want simulated %v", p.Time(), ts)
	}
	if tags := tagMap(p); tags["entity"] != "house1/battery-1" || tags["kind"] != "battery" {
		t.Errorf("tags = %v", tags)
	}
	if fields := fieldMap(p); fields["soc"] != 0.25 {
		t.Errorf("fields = %v", fields)
	}
}

func TestWriteClock(t *testing.T) {
	c, w := newTestClient()
	c.WriteClock("run-a", 42, 1, time.Unix(3600, 0))

	if len(w.points) != 1 {
		t.Fatalf("points written = %d, want 1", len(w.points))
	}
	fields := fieldMap(w.points[0])
	if fields["tick"] != int64(42) {
		t.Errorf("tick field = %v (%T), want int64 42", fields["tick"], fields["tick"])
	}
}

func TestClient_ClosedDropsWrites(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes on Close = %d, want 1", w.flushes)
	}

	c.WriteEntityState("", "b", "battery", map[string]any{"soc": 1.0}, time.Now())
	c.WritePointWithTime("m", nil, map[string]any{"v": 1.0}, time.Now())
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("points written after Close = %d, want 0", len(w.points))
	}
	if w.flushes != 1 {
		t.Errorf("Flush after Close should be a no-op, flushes = %d", w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClientOptions(t *testing.T) {
	opts := clientOptions(config.InfluxDBConfig{})
	if opts.BatchSize() != defaultBatchSize || opts.FlushInterval() != 1000 {
		t.Errorf("defaults = batch %d, flush %dms", opts.BatchSize(), opts.FlushInterval())
	}
	opts = clientOptions(config.InfluxDBConfig{BatchSize: 50, FlushInterval: 5})
	if opts.BatchSize() != 50 || opts.FlushInterval() != 5000 {
		t.Errorf("configured = batch %d, flush %dms", opts.BatchSize(), opts.FlushInterval())
	}
}

func TestSetOnError(t *testing.T) {
	c := &Client{}
	errs := make(chan error, 1)
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	go c.forwardErrors(errs)
	errs <- errors.New("write failed")
	close(errs)

	select {
	case err := <-got:
		if err.Error() != "write failed" {
			t.Errorf("callback error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	c.SetOnError(nil)
}
