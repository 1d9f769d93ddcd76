package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/flagx"
	"github.com/dmitrijs2005/rosepanel/internal/timex"
)

// JsonConfig is the on-disk shape of the optional config file. Pointer
// fields distinguish "absent" from a zero value so only keys present in
// the file override the defaults.
type JsonConfig struct {
	Hostname            *string         `json:"hostname"`
	Port                *int            `json:"port"`
	DataDir             *string         `json:"data_dir"`
	TokenLifespan       *timex.Duration `json:"token_lifespan"`
	OneTokenAccounts    *bool           `json:"one_token_accounts"`
	AskToExit           *bool           `json:"ask_to_exit"`
	ClearSessionsOnExit *bool           `json:"clear_sessions_on_exit"`
	ReaperFastInterval  *timex.Duration `json:"reaper_fast_interval"`
	ReaperSlowInterval  *timex.Duration `json:"reaper_slow_interval"`
	ShutdownGrace       *timex.Duration `json:"shutdown_grace"`
	StopStepTimeout     *timex.Duration `json:"stop_step_timeout"`
	LockTimeout         *timex.Duration `json:"lock_timeout"`
}

// parseJson overlays values from the file named by -c/-config, if any.
// An unreadable or malformed file panics: the process cannot start with a
// config the operator did not intend.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.Hostname, c.Hostname)
	setString(&config.DataDir, c.DataDir)
	if c.Port != nil {
		config.Port = *c.Port
	}
	setBool(&config.OneTokenAccounts, c.OneTokenAccounts)
	setBool(&config.AskToExit, c.AskToExit)
	setBool(&config.ClearSessionsOnExit, c.ClearSessionsOnExit)
	setDuration(&config.TokenLifespan, c.TokenLifespan)
	setDuration(&config.ReaperFastInterval, c.ReaperFastInterval)
	setDuration(&config.ReaperSlowInterval, c.ReaperSlowInterval)
	setDuration(&config.ShutdownGrace, c.ShutdownGrace)
	setDuration(&config.StopStepTimeout, c.StopStepTimeout)
	setDuration(&config.LockTimeout, c.LockTimeout)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
