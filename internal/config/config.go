package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port                    int    `env:"PORT" envDefault:"8080"`
	DatabaseURL             string `env:"DATABASE_URL,required"`
	RedisURL                string `env:"REDIS_URL,required"`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
	APIPrefix               string `env:"API_PREFIX" envDefault:"/api"`
	HeartbeatTimeoutSeconds int    `env:"HEARTBEAT_TIMEOUT_SECONDS" envDefault:"300"`
	HeartbeatCheckSeconds   int    `env:"HEARTBEAT_CHECK_SECONDS" envDefault:"30"`
	AssetDir                string `env:"ASSET_DIR" envDefault:"data/assets"`
	AssetMaxBytes           int64  `env:"ASSET_MAX_BYTES" envDefault:"20971520"`
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

func (c *Config) HeartbeatCheckInterval() time.Duration {
	return time.Duration(c.HeartbeatCheckSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
