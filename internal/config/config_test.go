package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/krig/parallel-ssh/internal/hostlist"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pssh.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
defaults:
  parallelism: 16
  timeout: 30s
groups:
  web:
    hosts: [web1, web2]
    user: deploy
  db:
    hosts: [db1:5432]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Defaults.Parallelism != 16 {
		t.Errorf("parallelism = %d, want 16", cfg.Defaults.Parallelism)
	}
	if cfg.Defaults.Timeout.Duration != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Defaults.Timeout.Duration)
	}
	if len(cfg.Groups) != 2 {
		t.Errorf("expected 2 groups, got %d", len(cfg.Groups))
	}
	if cfg.Groups["web"].User != "deploy" {
		t.Errorf("web group user = %q, want deploy", cfg.Groups["web"].User)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing config must not be an error, got %v", err)
	}
	if cfg.Defaults.Parallelism != 0 || len(cfg.Groups) != 0 {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "defaults: [not a map\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "defaults:\n  timeout: soon\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
}

func TestResolveGroup(t *testing.T) {
	cfg := &Config{Groups: map[string]Group{
		"web": {Hosts: []string{"web1", "alice@web2"}, User: "deploy", Port: 2222},
	}}

	hosts, err := cfg.ResolveGroup("web", "fallback", 22)
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	want := []hostlist.Host{
		{Name: "web1", Host: "web1", User: "deploy", Port: 2222},
		{Name: "alice@web2", Host: "web2", User: "alice", Port: 2222},
	}
	if !reflect.DeepEqual(hosts, want) {
		t.Errorf("ResolveGroup = %+v, want %+v", hosts, want)
	}
}

func TestResolveGroup_DefaultsApply(t *testing.T) {
	cfg := &Config{Groups: map[string]Group{
		"db": {Hosts: []string{"db1"}},
	}}

	hosts, err := cfg.ResolveGroup("db", "deploy", 22)
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if hosts[0].User != "deploy" || hosts[0].Port != 22 {
		t.Errorf("defaults not applied: %+v", hosts[0])
	}
}

func TestResolveGroup_Unknown(t *testing.T) {
	cfg := &Config{Groups: map[string]Group{"web": {}}}
	_, err := cfg.ResolveGroup("nope", "", 0)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected a not-found error, got %v", err)
	}
}
