package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestContainerLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := []byte("service_name: billing\ninbound:\n  secret: from-file\n  tolerance_seconds: 60\n  validate_signature: true\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RELAY_INBOUND__SECRET", "12345")
	t.Setenv("RELAY_INBOUND__IP_ALLOWLIST", "10.0.0.0/8, 192.168.1.4")
	t.Setenv("RELAY_OUTBOUND__MAX_ATTEMPTS", "3")

	cfg, err := loadConfig(context.Background(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "billing" || cfg.Inbound.ToleranceSeconds != 60 {
		t.Fatalf("expected file values to survive, got %+v", cfg)
	}
	if cfg.Inbound.Secret != "12345" {
		t.Fatalf("expected env secret to win, got %q", cfg.Inbound.Secret)
	}
	if len(cfg.Inbound.IPAllowlist) != 2 || cfg.Inbound.IPAllowlist[1] != "192.168.1.4" {
		t.Fatalf("unexpected allowlist %#v", cfg.Inbound.IPAllowlist)
	}
	if cfg.Outbound.MaxAttempts != 3 {
		t.Fatalf("expected env max attempts, got %d", cfg.Outbound.MaxAttempts)
	}
}

func TestContainerLoader_ReturnsOnlySetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("inbound:\n  tolerance_seconds: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	raw, err := newContainerLoader(path).LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	inbound, _ := raw["inbound"].(map[string]any)
	if len(inbound) != 1 {
		t.Fatalf("expected only the set key, got %#v", raw)
	}
	if _, ok := raw["outbound"]; ok {
		t.Fatalf("expected defaults to stay out of the raw layer, got %#v", raw)
	}

	cfg, err := loadConfig(context.Background(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Inbound.ToleranceSeconds != 0 || cfg.Outbound.MaxAttempts != 6 {
		t.Fatalf("expected explicit zero and kept defaults, got %+v", cfg)
	}
}

func TestContainerLoader_MissingFileFails(t *testing.T) {
	loader := newContainerLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected missing config file error")
	}
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	t.Setenv("RELAY_QUEUE__WORKER_ID", "node-7")
	cfg, err := loadConfig(context.Background(), "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Queue.WorkerID != "node-7" {
		t.Fatalf("expected worker id from env, got %q", cfg.Queue.WorkerID)
	}
	if cfg.Outbound.MaxAttempts != 6 || cfg.Database.Driver != "sqlite3" {
		t.Fatalf("expected defaults to be kept, got %+v", cfg)
	}
}

func TestRootCommand_OperatorFlow(t *testing.T) {
	t.Setenv("RELAY_DATABASE__DSN", "file:"+filepath.Join(t.TempDir(), "relay.db")+"?_foreign_keys=on")

	run := func(args ...string) []byte {
		t.Helper()
		root := newRootCommand()
		out := &bytes.Buffer{}
		root.SetOut(out)
		root.SetArgs(append(args, "--subscriber-cache-ttl=0"))
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("relay %v: %v", args, err)
		}
		return out.Bytes()
	}

	run("migrate")
	run("subscribers", "add", "--id", "sub-1", "--url", "https://hooks.example.com/relay", "--secret", "shh", "--events", "order.created")

	var dispatched struct {
		JobsCreated int      `json:"jobs_created"`
		JobIDs      []string `json:"job_ids"`
	}
	if err := json.Unmarshal(run("dispatch", "order.created", "--data", `{"order_id":"o-1"}`), &dispatched); err != nil {
		t.Fatalf("decode dispatch output: %v", err)
	}
	if dispatched.JobsCreated != 1 || len(dispatched.JobIDs) != 1 {
		t.Fatalf("expected one job, got %+v", dispatched)
	}

	var jobs []map[string]any
	if err := json.Unmarshal(run("jobs", "list", "--status", "pending"), &jobs); err != nil {
		t.Fatalf("decode jobs output: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one pending job, got %d", len(jobs))
	}

	run("jobs", "cancel", dispatched.JobIDs[0])
	var stats struct {
		Queue struct {
			Failed int `json:"failed"`
		} `json:"queue"`
	}
	if err := json.Unmarshal(run("stats"), &stats); err != nil {
		t.Fatalf("decode stats output: %v", err)
	}
	if stats.Queue.Failed != 1 {
		t.Fatalf("expected cancelled job counted as failed, got %+v", stats)
	}
}

func TestRootCommand_RejectsBadDispatchPayload(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"dispatch", "order.created", "--data", "[1,2]"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected invalid payload error")
	}
}
