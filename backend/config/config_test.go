package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
running:
  port: 4000
kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic: "changes"
collab:
  presenceTTL: 30s
  debounce: 500ms
`
	if err := os.WriteFile(filepath.Join(dir, "collabConfig.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Running.Port != 4000 {
		t.Fatalf("port = %d, want 4000", cfg.Running.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "changes" {
		t.Fatalf("kafka = %+v", cfg.Kafka)
	}
	if cfg.Collab.PresenceTTL != 30*time.Second || cfg.Collab.Debounce != 500*time.Millisecond {
		t.Fatalf("collab = %+v", cfg.Collab)
	}
	// 文件里没写的键用默认值
	if cfg.Kafka.Group != "collab-change-archiver" || cfg.Collab.SendBuffer != 64 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("COLLAB_RUNNING_PORT", "5005")
	t.Setenv("COLLAB_AUTH_SECRET", "from-env")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Running.Port != 5005 {
		t.Fatalf("port = %d, want 5005", cfg.Running.Port)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Fatalf("secret = %q, want from-env", cfg.Auth.Secret)
	}
	if cfg.Collab.Debounce != 800*time.Millisecond {
		t.Fatalf("debounce = %s, want 800ms", cfg.Collab.Debounce)
	}
}
