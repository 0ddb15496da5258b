// Package config holds all server configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"replaylab/services/clickhouse"
)

type Config struct {
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
		GRPCAddr string `yaml:"grpc_addr"`
	} `yaml:"server"`

	ClickHouse clickhouse.Config `yaml:"clickhouse"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	Simulation struct {
		InitialCash float64 `yaml:"initial_cash"`
		Timezone    string  `yaml:"timezone"`
	} `yaml:"simulation"`

	LogLevel string `yaml:"log_level"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is fine; everything has a default
// except the ClickHouse address.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("REPLAYLAB_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("REPLAYLAB_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("CLICKHOUSE_ADDR"); v != "" {
		cfg.ClickHouse.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_USER"); v != "" {
		cfg.ClickHouse.Username = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = ":9090"
	}
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "replaylab"
	}
	if cfg.ClickHouse.Username == "" {
		cfg.ClickHouse.Username = "default"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/replaylab.db"
	}
	if cfg.Simulation.InitialCash == 0 {
		cfg.Simulation.InitialCash = 100000
	}
	if cfg.Simulation.Timezone == "" {
		cfg.Simulation.Timezone = "Asia/Shanghai"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.ClickHouse.Addr == "" {
		return fmt.Errorf("clickhouse.addr is required")
	}
	if c.Simulation.InitialCash <= 0 {
		return fmt.Errorf("simulation.initial_cash must be positive")
	}
	return nil
}
