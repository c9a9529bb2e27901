package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Node struct {
		ID   string `koanf:"id"`
		Role string `koanf:"role"`
	} `koanf:"node"`
	Ingest struct {
		QueueCapacity int           `koanf:"queue_capacity"`
		RetryBackoff  time.Duration `koanf:"retry_backoff"`
	} `koanf:"ingest"`
	Cluster struct {
		Seeds []string `koanf:"seeds"`
	} `koanf:"cluster"`
}

func defaults() testConfig {
	var c testConfig
	c.Node.Role = "ingestor"
	c.Ingest.QueueCapacity = 1024
	c.Ingest.RetryBackoff = 10 * time.Millisecond
	return c
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graphmesh.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoader_DefaultsSurvive(t *testing.T) {
	path := writeFile(t, "node:\n  id: ing-1\n")
	cfg := defaults()
	if err := NewLoader(WithConfigFile(path)).Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Node.ID != "ing-1" {
		t.Errorf("node.id = %q, want ing-1", cfg.Node.ID)
	}
	if cfg.Node.Role != "ingestor" || cfg.Ingest.QueueCapacity != 1024 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoader_Precedence(t *testing.T) {
	path := writeFile(t, "node:\n  id: from-file\n  role: store\ningest:\n  queue_capacity: 10\n  retry_backoff: 1s\n")
	t.Setenv("GRAPHMESH_NODE__ROLE", "coordinator")
	t.Setenv("GRAPHMESH_INGEST__QUEUE_CAPACITY", "20")

	cfg := defaults()
	l := NewLoader(WithConfigFile(path), WithOverrides(map[string]any{
		"node.id":      "from-flag",
		"ingest.bogus": nil,
	}))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"flag over file", cfg.Node.ID, "from-flag"},
		{"env over file", cfg.Node.Role, "coordinator"},
		{"env int", cfg.Ingest.QueueCapacity, 20},
		{"file duration", cfg.Ingest.RetryBackoff, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if l.Exists("ingest.bogus") {
		t.Error("nil override should be skipped")
	}
	if !l.IsLoaded() {
		t.Error("IsLoaded() = false after Load")
	}
}

func TestLoader_EnvKeyMapping(t *testing.T) {
	l := NewLoader()
	tests := []struct {
		in, want string
	}{
		{"GRAPHMESH_NODE__ID", "node.id"},
		{"GRAPHMESH_WAL__SYNC_MODE", "wal.sync_mode"},
		{"GRAPHMESH_STORE__BADGER__VALUE_LOG_SIZE", "store.badger.value_log_size"},
	}
	for _, tt := range tests {
		if got := l.envKey(tt.in); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("GMTEST_NODE__ID", "x")
	l := NewLoader(WithEnvPrefix("GMTEST_"))
	if err := l.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if got := l.GetString("node.id"); got != "x" {
		t.Errorf("node.id = %q, want x", got)
	}
}

func TestLoader_LoadMapNested(t *testing.T) {
	l := NewLoader()
	if err := l.LoadMap(map[string]any{"ingest.queue_capacity": 7, "node.id": "n"}); err != nil {
		t.Fatalf("LoadMap() error = %v", err)
	}
	cfg := defaults()
	if err := l.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.Ingest.QueueCapacity != 7 || cfg.Node.ID != "n" {
		t.Errorf("cfg = %+v", cfg)
	}
	if l.GetInt("ingest.queue_capacity") != 7 {
		t.Errorf("GetInt = %d", l.GetInt("ingest.queue_capacity"))
	}
}

func TestLoader_MissingFile(t *testing.T) {
	cfg := defaults()
	err := NewLoader(WithConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))).Load(&cfg)
	if err == nil {
		t.Fatal("Load() with missing file should fail")
	}
}

func TestLoader_Reload(t *testing.T) {
	path := writeFile(t, "node:\n  id: a\n")
	l := NewLoader(WithConfigFile(path))
	cfg := defaults()
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("node:\n  role: store\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	next := defaults()
	if err := l.Reload(&next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if next.Node.ID != "" || next.Node.Role != "store" {
		t.Errorf("reloaded cfg = %+v", next.Node)
	}
}
