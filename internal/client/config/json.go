package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/circle/internal/flagx"
	"github.com/dmitrijs2005/circle/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds.
type JsonConfig struct {
	ServerURL            string         `json:"server_url"`
	DatabasePath         string         `json:"database_path"`
	ReconnectMin         timex.Duration `json:"reconnect_min"`
	ReconnectMax         timex.Duration `json:"reconnect_max"`
	ReconnectMaxAttempts int            `json:"reconnect_max_attempts"`
	TypingTimeout        timex.Duration `json:"typing_timeout"`
	PingInterval         timex.Duration `json:"ping_interval"`
	OnlineCheckInterval  timex.Duration `json:"online_check_interval"`
	TransferWorkers      int            `json:"transfer_workers"`
}

// parseJson overlays Config with the fields present in the JSON file named
// by -c/-config (or $CIRCLE_CONFIG). Absent or zero fields keep their
// current value. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.ReconnectMin.Duration > 0 {
		cfg.ReconnectMin = jc.ReconnectMin.Duration
	}
	if jc.ReconnectMax.Duration > 0 {
		cfg.ReconnectMax = jc.ReconnectMax.Duration
	}
	if jc.ReconnectMaxAttempts > 0 {
		cfg.ReconnectMaxAttempts = jc.ReconnectMaxAttempts
	}
	if jc.TypingTimeout.Duration > 0 {
		cfg.TypingTimeout = jc.TypingTimeout.Duration
	}
	if jc.PingInterval.Duration > 0 {
		cfg.PingInterval = jc.PingInterval.Duration
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.TransferWorkers > 0 {
		cfg.TransferWorkers = jc.TransferWorkers
	}
}
