// Package config loads runtime configuration for the Circle CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags -c or -config,
//     or the CIRCLE_CONFIG environment variable.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   server base URL, e.g. http://127.0.0.1:8080
//	-f string   local database file
//	-r int      minimum reconnect delay (milliseconds)
//	-y int      typing indicator timeout (seconds)
//	-i int      online status check interval (seconds)
//
// # JSON schema
//
// Intervals are timex.Duration values, so they can be strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "server_url": "https://chat.example.com",
//	  "database_path": "/home/me/.circle.db",
//	  "reconnect_min": "500ms",
//	  "reconnect_max": "30s",
//	  "reconnect_max_attempts": 0,
//	  "typing_timeout": "3s",
//	  "ping_interval": "25s",
//	  "online_check_interval": "3s",
//	  "transfer_workers": 2
//	}
package config
