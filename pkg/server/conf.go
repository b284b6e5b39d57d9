package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Conf holds store-level configuration parameters, loaded from a YAML file
// with flag/env overrides applied by the binary.
type Conf struct {
	// --- Listeners ---
	Host        string `yaml:"host"`          // bind address for both listeners
	DevPort     int    `yaml:"dev_port"`      // 0 = OS-assigned
	LobbyPort   int    `yaml:"lobby_port"`    // 0 = OS-assigned
	PortFileDir string `yaml:"port_file_dir"` // where .dev_port/.lobby_port land; empty = data root

	// --- Storage ---
	DataRoot string `yaml:"data_root"` // catalog tree, port files

	// --- Credential store ---
	CredHost string `yaml:"cred_host"`
	CredPort int    `yaml:"cred_port"`

	// --- Sessions ---
	PlayerTimeout int `yaml:"player_timeout"` // seconds; 0 disables the read deadline

	// --- Game servers ---
	GameLogDir string `yaml:"game_log_dir"` // subprocess logs; empty = os.TempDir()

	// --- Metrics ---
	MetricsEnabled bool `yaml:"metrics_enabled"`
	MetricsPort    int  `yaml:"metrics_port"`
}

// DefaultConf returns sensible defaults.
func DefaultConf() *Conf {
	return &Conf{
		Host:          "0.0.0.0",
		DataRoot:      ".",
		CredHost:      "localhost",
		PlayerTimeout: 30,
		MetricsPort:   9190,
	}
}

// LoadConf reads a YAML config file over the defaults.
func LoadConf(path string) (*Conf, error) {
	c := DefaultConf()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// PlayerReadTimeout returns the player session receive deadline.
func (c *Conf) PlayerReadTimeout() time.Duration {
	return time.Duration(c.PlayerTimeout) * time.Second
}
