package config

import "time"

// Config holds runtime settings for the Circle CLI.
//
// Units: every interval is a time.Duration.
type Config struct {
	ServerURL            string
	DatabasePath         string
	ReconnectMin         time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int
	TypingTimeout        time.Duration
	PingInterval         time.Duration
	OnlineCheckInterval  time.Duration
	TransferWorkers      int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DatabasePath = "circle.db"
	c.ReconnectMin = 500 * time.Millisecond
	c.ReconnectMax = 30 * time.Second
	c.ReconnectMaxAttempts = 0
	c.TypingTimeout = 3 * time.Second
	c.PingInterval = 25 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.TransferWorkers = 2
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
