// Package config loads and validates the controld daemon configuration.
// File values are read with yaml.v3, the same library warren uses for its
// deployment manifests; cobra flags (wired in cmd/controld) override
// fields read from the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nodequorum/controld/pkg/ctlerr"
)

// Config is the full daemon configuration.
type Config struct {
	NodeUname   string        `yaml:"node_uname" validate:"required"`
	ClusterName string        `yaml:"cluster_name" validate:"required"`
	DataDir     string        `yaml:"data_dir" validate:"required"`

	TransportBindAddr string `yaml:"transport_bind_addr" validate:"required,hostname_port"`
	CIBEndpoint       string `yaml:"cib_endpoint" validate:"required"`

	RaftBindAddr string `yaml:"raft_bind_addr" validate:"required,hostname_port"`
	Bootstrap    bool   `yaml:"bootstrap"`

	ElectionTimeout     time.Duration `yaml:"election_timeout" validate:"required"`
	BatchLimitFloor     int           `yaml:"batch_limit_floor" validate:"gte=1"`
	BatchLimitCeil      int           `yaml:"batch_limit_ceil" validate:"gtefield=BatchLimitFloor"`
	FencingWatchdog     time.Duration `yaml:"fencing_watchdog" validate:"required"`
	ShutdownEscalate    time.Duration `yaml:"shutdown_escalate" validate:"required"`
	ShutdownLockEnabled bool          `yaml:"shutdown_lock_enabled"`

	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogJSON       bool   `yaml:"log_json"`
	MetricsListen string `yaml:"metrics_listen"`
}

// Default returns a Config with the defaults controld ships with, prior to
// file and flag overrides.
func Default() Config {
	return Config{
		DataDir:          "/var/lib/controld",
		TransportBindAddr: "0.0.0.0:5560",
		RaftBindAddr:      "0.0.0.0:5561",
		ElectionTimeout:   20 * time.Second,
		BatchLimitFloor:   1,
		BatchLimitCeil:    30,
		FencingWatchdog:   60 * time.Second,
		ShutdownEscalate:  5 * time.Second,
		LogLevel:          "info",
		MetricsListen:     "127.0.0.1:9750",
	}
}

// Load reads and validates a config file, layered over Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, ctlerr.New(ctlerr.Io, "config.Load", fmt.Sprintf("reading %s", path), err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, ctlerr.New(ctlerr.BadConfig, "config.Load", "parsing yaml", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return ctlerr.New(ctlerr.BadConfig, "config.Validate", "invalid configuration", err)
	}
	return nil
}
