package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gamestore.yaml")
	body := `
host: 127.0.0.1
data_root: /srv/store
cred_host: creds.internal
cred_port: 9555
player_timeout: 45
metrics_enabled: true
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := LoadConf(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Host != "127.0.0.1" || c.DataRoot != "/srv/store" {
		t.Errorf("unexpected conf %+v", c)
	}
	if c.CredHost != "creds.internal" || c.CredPort != 9555 {
		t.Errorf("cred fields lost: %+v", c)
	}
	if c.PlayerReadTimeout() != 45*time.Second {
		t.Errorf("expected 45s timeout, got %v", c.PlayerReadTimeout())
	}
	if !c.MetricsEnabled {
		t.Error("metrics_enabled lost")
	}
	// Untouched fields keep their defaults.
	if c.MetricsPort != DefaultConf().MetricsPort {
		t.Errorf("metrics_port default lost: %d", c.MetricsPort)
	}
}

func TestLoadConfMissingFile(t *testing.T) {
	if _, err := LoadConf("/nonexistent/gamestore.yaml"); err == nil {
		t.Error("expected an error")
	}
}
