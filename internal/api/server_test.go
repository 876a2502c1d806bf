package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-sim/internal/auth"
	"github.com/nerrad567/gray-logic-sim/internal/clock"
	"github.com/nerrad567/gray-logic-sim/internal/composer"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sim/internal/recorder"
	_ "github.com/nerrad567/gray-logic-sim/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type testEnv struct {
	srv  *Server
	comp *composer.Composer
	http *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	log := logging.Discard()
	comp := composer.New(composer.Options{Logger: log})
	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics:     config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:      log,
		Composer:    comp,
		StopTimeout: time.Second,
		Version:     "test",
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		comp.Reset(time.Second)
	})
	return &testEnv{srv: srv, comp: comp, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+"/api/v1"+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, raw, err)
		}
	}
	return resp, out
}

func (e *testEnv) expect(t *testing.T, want int, method, path, body string, header ...string) map[string]any {
	t.Helper()
	resp, out := e.do(t, method, path, body, header...)
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d (body %v)", method, path, resp.StatusCode, want, out)
	}
	return out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

const testConfig = `{"startTime":0,"timeZone":"UTC","intervals":3}`

// compose declares a host, a meter and a battery and configures 3 intervals.
func (e *testEnv) compose(t *testing.T) {
	t.Helper()
	e.expect(t, http.StatusCreated, "POST", "/composer/entities", `{"type":"host","entity":{"name":"house"}}`)
	e.expect(t, http.StatusCreated, "POST", "/composer/entities", `{"type":"meter","entity":{"name":"elec"}}`)
	e.expect(t, http.StatusCreated, "POST", "/composer/entities", `{"type":"battery","entity":{"name":"bat","initialSoC":1000}}`)
	e.expect(t, http.StatusOK, "POST", "/composer/config", testConfig)
}

func waitRun(t *testing.T, c *composer.Composer) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	body := env.expect(t, http.StatusOK, "GET", "/health", "")
	if body["status"] != "ok" || body["composer"] != "INACTIVE" {
		t.Errorf("health = %v", body)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Composer: composer.New(composer.Options{})}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without composer succeeded")
	}
	_, err := New(Deps{
		Logger:   logging.Discard(),
		Composer: composer.New(composer.Options{}),
		Config:   config.APIConfig{Auth: config.AuthConfig{Enabled: true}},
	})
	if err == nil {
		t.Error("New() with auth but no secret succeeded")
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:   logging.Discard(),
		Composer: composer.New(composer.Options{}),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d", resp.StatusCode)
	}

	clash, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: portOf(t, srv.Addr())},
		Logger:   logging.Discard(),
		Composer: composer.New(composer.Options{}),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := clash.Start(context.Background()); err == nil {
		t.Error("Start() on a bound port succeeded")
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("port %q: %v", port, err)
	}
	return n
}

func TestLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	body := env.expect(t, http.StatusConflict, "POST", "/composer/load", "")
	if errorCode(body) != ErrCodeConflict {
		t.Errorf("load without host error = %v, want code conflict", body)
	}

	env.compose(t)
	decl := env.expect(t, http.StatusOK, "GET", "/composer/entities", "")
	if host, _ := decl["host"].(map[string]any); host["type"] != "host" {
		t.Errorf("composition host = %v", decl["host"])
	}
	if entities, _ := decl["entities"].([]any); len(entities) != 1 {
		t.Errorf("composition entities = %v, want the battery", decl["entities"])
	}
	env.expect(t, http.StatusConflict, "POST", "/composer/entities", `{"type":"meter","entity":{"name":"elec"}}`)
	env.expect(t, http.StatusConflict, "POST", "/composer/config", testConfig)

	env.expect(t, http.StatusOK, "POST", "/composer/load", "")
	list := env.expect(t, http.StatusOK, "GET", "/entities", "")
	if list["count"] != 2.0 {
		t.Errorf("entities = %v, want elec and bat", list)
	}

	env.expect(t, http.StatusOK, "POST", "/composer/start", "")
	env.expect(t, http.StatusConflict, "POST", "/composer/start", "")
	waitRun(t, env.comp)

	tm := env.expect(t, http.StatusOK, "GET", "/simulation/time", "")
	if tm["time"] != 180.0 || tm["tick"] != 3.0 {
		t.Errorf("time = %v, want 180 after 3 ticks", tm)
	}
	status := env.expect(t, http.StatusOK, "GET", "/composer", "")
	if status["status"] != "ACTIVE" || status["running"] != false {
		t.Errorf("status = %v", status)
	}

	reset := env.expect(t, http.StatusOK, "POST", "/composer/reset", "")
	if reset["status"] != "INACTIVE" || reset["confirmed"] != true {
		t.Errorf("reset = %v", reset)
	}
	env.expect(t, http.StatusConflict, "GET", "/simulation/time", "")
}

func TestRemoveDeclaration(t *testing.T) {
	env := newTestEnv(t, nil)
	env.compose(t)

	env.expect(t, http.StatusNoContent, "DELETE", "/composer/entities/bat", "")
	env.expect(t, http.StatusNotFound, "DELETE", "/composer/entities/bat", "")
}

func TestApplyScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	scenario := `
parameters:
  startTime: 0
  timeZone: UTC
  intervals: 2
entities:
  - type: host
    entity: {name: house}
  - type: meter
    entity: {name: elec}
  - type: battery
    entity: {name: bat, capacity: 5000}
`
	body := env.expect(t, http.StatusCreated, "POST", "/composer/scenario", scenario,
		"Content-Type", "application/yaml")
	if p, _ := body["parameters"].(map[string]any); p["intervals"] != 2.0 {
		t.Errorf("parameters = %v", body["parameters"])
	}
	env.expect(t, http.StatusConflict, "POST", "/composer/scenario?format=yaml", scenario)
	env.expect(t, http.StatusOK, "POST", "/composer/load", "")
	v := env.expect(t, http.StatusOK, "GET", "/entities/bat/vars/capacity", "")
	if v["value"] != 5000.0 {
		t.Errorf("capacity = %v, want 5000", v)
	}
}

func TestDirectControl(t *testing.T) {
	env := newTestEnv(t, nil)
	env.compose(t)
	env.expect(t, http.StatusOK, "POST", "/composer/load", "")

	env.expect(t, http.StatusOK, "PUT", "/entities/bat/vars/target", `{"value":250}`)
	v := env.expect(t, http.StatusOK, "GET", "/entities/bat/vars/target", "")
	if v["value"] != 250.0 {
		t.Errorf("target = %v, want 250", v)
	}
	state := env.expect(t, http.StatusOK, "GET", "/entities/bat", "")
	if s, _ := state["state"].(map[string]any); s["target"] != 250.0 {
		t.Errorf("state = %v", state)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown entity", "GET", "/entities/nope/vars/target", "", http.StatusNotFound, ErrCodeNotFound},
		{"unknown variable", "GET", "/entities/bat/vars/nope", "", http.StatusNotFound, ErrCodeNotFound},
		{"unknown function", "POST", "/entities/bat/calls/nope", "", http.StatusNotFound, ErrCodeNotFound},
		{"bad body", "PUT", "/entities/bat/vars/target", "{", http.StatusBadRequest, ErrCodeBadRequest},
		{"link without target", "PUT", "/entities/bat/links/meter", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"create unknown type", "POST", "/entities", `{"type":"warp","entity":{"name":"x"}}`, http.StatusBadRequest, ErrCodeValidation},
		{"remove missing", "DELETE", "/entities/nope", "", http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := env.expect(t, tt.status, tt.method, tt.path, tt.body)
			if got := errorCode(body); got != tt.code {
				t.Errorf("error code = %q, want %q", got, tt.code)
			}
		})
	}

	env.expect(t, http.StatusCreated, "POST", "/entities", `{"type":"meter","entity":{"name":"sub"}}`)
	env.expect(t, http.StatusConflict, "POST", "/entities", `{"type":"meter","entity":{"name":"sub"}}`)
	env.expect(t, http.StatusNoContent, "DELETE", "/entities/sub", "")
}

func TestCommands(t *testing.T) {
	env := newTestEnv(t, nil)
	env.expect(t, http.StatusConflict, "POST", "/commands", `{"cmd":"setVar","entity":"bat","name":"target","payload":-500}`)

	env.compose(t)
	env.expect(t, http.StatusOK, "POST", "/composer/load", "")

	body := env.expect(t, http.StatusAccepted, "POST", "/commands", `{"cmd":"setVar","entity":"bat","name":"target","payload":-500}`)
	if body["queued"] != 1.0 {
		t.Errorf("submit = %v", body)
	}
	env.expect(t, http.StatusBadRequest, "POST", "/commands", `{"cmd":"explode"}`)
	env.expect(t, http.StatusBadRequest, "POST", "/commands", `{"cmd":"setVar","bogus":1}`)

	batch := `[{"cmd":"setVar","entity":"bat","name":"target","payload":-400},{"cmd":"removeObj","entity":"elec"}]`
	body = env.expect(t, http.StatusAccepted, "POST", "/commands/batch", batch)
	if ids, _ := body["ids"].([]any); len(ids) != 2 {
		t.Errorf("batch = %v", body)
	}
	env.expect(t, http.StatusBadRequest, "POST", "/commands/batch", `[{"cmd":"setVar"}]`)

	// Commands stay queued until a tick drains them.
	v := env.expect(t, http.StatusOK, "GET", "/entities/bat/vars/target", "")
	if v["value"] != 0.0 {
		t.Errorf("target before the first tick = %v, want 0", v)
	}

	env.expect(t, http.StatusOK, "POST", "/composer/start", "")
	waitRun(t, env.comp)
	v = env.expect(t, http.StatusOK, "GET", "/entities/bat/vars/target", "")
	if v["value"] != -400.0 {
		t.Errorf("target = %v, want -400 from the batch", v)
	}
	list := env.expect(t, http.StatusOK, "GET", "/entities", "")
	if list["count"] != 1.0 {
		t.Errorf("entities = %v, want elec removed", list)
	}
}

func TestSimulationControl(t *testing.T) {
	hour := time.Hour
	env := newTestEnv(t, nil)
	env.comp = composer.New(composer.Options{Logger: logging.Discard(), DelayOverride: &hour})
	env.srv.composer = env.comp
	t.Cleanup(func() { env.comp.Reset(time.Second) })

	env.expect(t, http.StatusConflict, "POST", "/simulation/pause", "")
	env.compose(t)
	env.expect(t, http.StatusOK, "POST", "/composer/load", "")
	env.expect(t, http.StatusOK, "POST", "/composer/start", "")

	p := env.expect(t, http.StatusOK, "POST", "/simulation/pause", "")
	if p["paused"] != true || p["changed"] != true {
		t.Errorf("pause = %v", p)
	}
	p = env.expect(t, http.StatusOK, "POST", "/simulation/pause", "")
	if p["changed"] != false {
		t.Errorf("second pause = %v, want unchanged", p)
	}

	body := env.expect(t, http.StatusBadRequest, "POST", "/simulation/time", `{"time":0}`)
	if errorCode(body) != ErrCodeValidation {
		t.Errorf("setTime into the past = %v", body)
	}
	env.expect(t, http.StatusBadRequest, "POST", "/simulation/time", `{}`)
	env.expect(t, http.StatusOK, "POST", "/simulation/resume", "")
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.Auth = config.AuthConfig{Enabled: true, JWTSecret: testSecret}
	})
	token := func(role auth.Role) string {
		t.Helper()
		tok, err := auth.IssueToken("tester", role, testSecret, time.Minute)
		if err != nil {
			t.Fatalf("IssueToken() error = %v", err)
		}
		return "Bearer " + tok
	}

	env.expect(t, http.StatusOK, "GET", "/health", "")
	env.expect(t, http.StatusUnauthorized, "GET", "/composer", "")
	env.expect(t, http.StatusUnauthorized, "GET", "/composer", "", "Authorization", "Bearer garbage")

	viewer, operator, admin := token(auth.RoleViewer), token(auth.RoleOperator), token(auth.RoleAdmin)
	env.expect(t, http.StatusOK, "GET", "/composer", "", "Authorization", viewer)
	body := env.expect(t, http.StatusForbidden, "POST", "/composer/load", "", "Authorization", viewer)
	if errorCode(body) != ErrCodeForbidden {
		t.Errorf("viewer load = %v", body)
	}
	env.expect(t, http.StatusForbidden, "POST", "/composer/load", "", "Authorization", operator)
	env.expect(t, http.StatusForbidden, "POST", "/simulation/pause", "", "Authorization", viewer)
	env.expect(t, http.StatusConflict, "POST", "/simulation/pause", "", "Authorization", operator)
	env.expect(t, http.StatusConflict, "POST", "/composer/load", "", "Authorization", admin)

	me := env.expect(t, http.StatusOK, "GET", "/auth/me", "", "Authorization", operator)
	perms, _ := me["permissions"].([]any)
	if me["subject"] != "tester" || me["role"] != "operator" || len(perms) != 3 {
		t.Errorf("auth/me = %v", me)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, "GET", "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", resp.StatusCode)
	}
	sys := env.expect(t, http.StatusOK, "GET", "/system", "")
	if sys["version"] != "test" {
		t.Errorf("system = %v", sys)
	}
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t, nil)
	env.expect(t, http.StatusServiceUnavailable, "GET", "/runs", "")

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	env = newTestEnv(t, func(d *Deps) {
		d.DB = db
		d.Composer = composer.New(composer.Options{
			Logger: logging.Discard(),
			Sinks:  recorder.New(recorder.Options{DB: db}),
		})
	})
	env.expect(t, http.StatusCreated, "POST", "/composer/entities", `{"type":"host","entity":{"name":"house"}}`)
	env.expect(t, http.StatusCreated, "POST", "/composer/entities", `{"type":"meter","entity":{"name":"elec"}}`)
	env.expect(t, http.StatusCreated, "POST", "/composer/entities", `{"type":"battery","entity":{"name":"bat"}}`)
	env.expect(t, http.StatusOK, "POST", "/composer/config",
		`{"startTime":0,"timeZone":"UTC","intervals":2,"enablePersistence":true,"logFlow":true}`)
	env.expect(t, http.StatusOK, "POST", "/composer/load", "")
	env.expect(t, http.StatusAccepted, "POST", "/commands", `{"cmd":"setVar","entity":"bat","name":"target","payload":100}`)
	env.expect(t, http.StatusOK, "POST", "/composer/start", "")
	waitRun(t, env.comp)
	runID, _ := env.expect(t, http.StatusOK, "GET", "/composer", "")["run_id"].(string)
	env.comp.Reset(time.Second)

	runs := env.expect(t, http.StatusOK, "GET", "/runs", "")
	if runs["count"] != 1.0 {
		t.Fatalf("runs = %v", runs)
	}
	cmds := env.expect(t, http.StatusOK, "GET", "/runs/"+runID+"/commands", "")
	if cmds["count"] != 1.0 {
		t.Errorf("commands = %v", cmds)
	}
	states := env.expect(t, http.StatusOK, "GET", "/runs/"+runID+"/states/bat?limit=1", "")
	if states["count"] != 1.0 {
		t.Errorf("states = %v", states)
	}
	env.expect(t, http.StatusBadRequest, "GET", "/runs/"+runID+"/states/bat?limit=zero", "")
	env.expect(t, http.StatusNotFound, "GET", "/runs/missing/commands", "")
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.Auth = config.AuthConfig{Enabled: true, JWTSecret: testSecret}
	})
	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("Dial() without ticket succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Dial() without ticket response = %v", resp)
	}

	tok, err := auth.IssueToken("tester", auth.RoleViewer, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	body := env.expect(t, http.StatusOK, "POST", "/auth/ws-ticket", "", "Authorization", "Bearer "+tok)
	ticket, _ := body["ticket"].(string)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?channels=run&ticket="+ticket, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Tickets are single-use.
	if _, _, err := websocket.DefaultDialer.Dial(wsURL+"?ticket="+ticket, nil); err == nil {
		t.Error("Dial() with a used ticket succeeded")
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	env.srv.Hub().Broadcast("tick", map[string]int{"tick": 1})
	env.srv.Hub().Broadcast("run", map[string]string{"event": "finished"})

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Frame
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != FrameEvent || msg.Channel != "run" || msg.Seq != 2 {
		t.Errorf("frame = %+v, want the run event only", msg)
	}

	if err := conn.WriteJSON(Frame{Type: "subscribe", ID: "s1", Channels: []string{"tick"}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != FrameAck || msg.ID != "s1" || strings.Join(msg.Channels, ",") != "run,tick" {
		t.Errorf("ack = %+v", msg)
	}

	if err := conn.WriteJSON(Frame{Type: "subscribe", ID: "s2", Channels: []string{"weather"}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != FrameError || msg.ID != "s2" {
		t.Errorf("frame = %+v, want an error for an unknown channel", msg)
	}
}

func TestParseChannels(t *testing.T) {
	known, unknown := parseChannels([]string{" tick", "", "run ", "weather"})
	if strings.Join(known, ",") != "tick,run" {
		t.Errorf("known = %v", known)
	}
	if strings.Join(unknown, ",") != "weather" {
		t.Errorf("unknown = %v", unknown)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{clock.ErrInvalidTarget, http.StatusBadRequest},
		{composer.ErrNotActive, http.StatusConflict},
		{recorder.ErrRunNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
