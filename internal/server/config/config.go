// Package config handles configuration for the panel process, including
// defaults, JSON overlay, and command-line flags.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds runtime settings for the panel core.
//
// Fields:
//   - Hostname / Port: bind address of the panel's network endpoint.
//   - DataDir: root holding settings.json and the servers/ tree.
//   - TokenLifespan: validity of a freshly issued session token.
//   - OneTokenAccounts: reuse a live session instead of minting a new one.
//   - AskToExit / ClearSessionsOnExit: shutdown policy of the owning process.
//   - ReaperFastInterval / ReaperSlowInterval: session reaper cadence.
//   - ShutdownGrace: bound on the reaper's final flush.
//   - StopStepTimeout: how long stop waits for death after each signal.
//   - LockTimeout: bound on acquiring a document lock.
type Config struct {
	Hostname            string
	Port                int
	DataDir             string
	TokenLifespan       time.Duration
	OneTokenAccounts    bool
	AskToExit           bool
	ClearSessionsOnExit bool
	ReaperFastInterval  time.Duration
	ReaperSlowInterval  time.Duration
	ShutdownGrace       time.Duration
	StopStepTimeout     time.Duration
	LockTimeout         time.Duration
}

// LoadDefaults populates Config with the stock panel settings.
func (c *Config) LoadDefaults() {
	c.Hostname = "0.0.0.0"
	c.Port = 5005
	c.DataDir = "."
	c.TokenLifespan = 4 * time.Hour
	c.OneTokenAccounts = true
	c.AskToExit = true
	c.ClearSessionsOnExit = true
	c.ReaperFastInterval = 15 * time.Second
	c.ReaperSlowInterval = 30 * time.Second
	c.ShutdownGrace = 5 * time.Second
	c.StopStepTimeout = 3 * time.Second
	c.LockTimeout = 5 * time.Second
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, os.Args[1:])
	parseFlags(cfg, os.Args[1:])
	return cfg
}

// Address is the host:port the panel listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}

// SettingsPath is the settings document holding accounts and tokens.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}

// ServersDir is the directory holding one sub-directory per managed server.
func (c *Config) ServersDir() string {
	return filepath.Join(c.DataDir, "servers")
}
