package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/auth"
	"github.com/nerrad567/gray-logic-sim/internal/composer"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
)

const testScenario = `
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
    entity: {name: bat}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYSIM_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidDatabasePath verifies run fails when the enabled database
// has no path.
func TestRun_InvalidDatabasePath(t *testing.T) {
	path := writeFile(t, "config.yaml", `
site:
  id: test-site
database:
  enabled: true
  path: ""
`)
	t.Setenv("GRAYSIM_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYSIM_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYSIM_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want the override", got)
	}
}

func TestDelayOverride(t *testing.T) {
	if d := delayOverride(config.SimulationConfig{DelayOverride: -1}); d != nil {
		t.Errorf("delayOverride(-1) = %v, want nil", *d)
	}
	d := delayOverride(config.SimulationConfig{DelayOverride: 0.25})
	if d == nil || *d != 250*time.Millisecond {
		t.Errorf("delayOverride(0.25) = %v, want 250ms", d)
	}
}

func TestHealthCheck_NoBackends(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil, nil); err != nil {
		t.Errorf("healthCheck() with nothing enabled error = %v", err)
	}
}

func TestRunValidate(t *testing.T) {
	path := writeFile(t, "house.yaml", testScenario)

	var out bytes.Buffer
	if err := runValidate([]string{path}, &out); err != nil {
		t.Fatalf("runValidate() error = %v", err)
	}
	if !strings.Contains(out.String(), "1 meters, 1 entities, 2 intervals") {
		t.Errorf("runValidate() output = %q", out.String())
	}

	if err := runValidate(nil, &out); err == nil {
		t.Error("runValidate() without a path succeeded")
	}
	bad := writeFile(t, "bad.yaml", "parameters: {intervals: 2}\nentities: [{type: warp, entity: {name: x}}]\n")
	if err := runValidate([]string{bad}, &out); err == nil {
		t.Error("runValidate() with an unknown type succeeded")
	}
}

func TestRunToken(t *testing.T) {
	secret := strings.Repeat("s", 32)
	path := writeFile(t, "config.yaml", `
site:
  id: test-site
api:
  auth:
    enabled: true
    jwt_secret: "`+secret+`"
`)
	t.Setenv("GRAYSIM_CONFIG", path)

	var out bytes.Buffer
	if err := runToken([]string{"-role", "operator", "-sub", "ci"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), secret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ci" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}

	if err := runToken([]string{"-role", "root"}, &out); err == nil {
		t.Error("runToken() with an unknown role succeeded")
	}
}

func TestStartScenario(t *testing.T) {
	path := writeFile(t, "house.yaml", testScenario)
	zero := time.Duration(0)
	comp := composer.New(composer.Options{DelayOverride: &zero})
	defer comp.Reset(time.Second)

	sim := config.SimulationConfig{ScenarioFile: path, AutoStart: true}
	if err := startScenario(context.Background(), comp, sim); err != nil {
		t.Fatalf("startScenario() error = %v", err)
	}
	if comp.Status() != composer.StatusActive {
		t.Errorf("Status() = %s, want ACTIVE", comp.Status())
	}

	select {
	case <-comp.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	if err := startScenario(context.Background(), comp, sim); err == nil {
		t.Error("startScenario() on an active composer succeeded")
	}
}
