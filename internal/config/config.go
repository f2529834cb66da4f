package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Auth struct {
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Lessons struct {
		TTL string `yaml:"ttl"`
	} `yaml:"lessons"`
	Feedback struct {
		// Provider is "gemini", "chat" or empty to disable feedback.
		Provider        string `yaml:"provider"`
		Model           string `yaml:"model"`
		APIKey          string `yaml:"api_key"`
		BaseURL         string `yaml:"base_url"`
		Timeout         string `yaml:"timeout"`
		DispatchTimeout string `yaml:"dispatch_timeout"`
		PollInterval    string `yaml:"poll_interval"`
		MaxAttempts     int    `yaml:"max_attempts"`
		RetryDelay      string `yaml:"retry_delay"`
		StaleRunning    string `yaml:"stale_running"`
	} `yaml:"feedback"`
}

// Load reads YAML config from path and fills secrets from the environment.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Auth.Secret == "" {
		c.Auth.Secret = os.Getenv("JWT_SECRET")
	}
	if c.Postgres.URL == "" {
		c.Postgres.URL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if c.Feedback.APIKey == "" {
		switch c.Feedback.Provider {
		case "gemini":
			c.Feedback.APIKey = os.Getenv("GEMINI_API_KEY")
		case "chat":
			c.Feedback.APIKey = os.Getenv("FEEDBACK_API_KEY")
		}
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
