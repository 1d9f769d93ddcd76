package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Server is the config.json document of one managed server.
type Server struct {
	SUID        string     `json:"server_unique_id"`
	Identifier  string     `json:"identifier"`
	Owner       string     `json:"owner"`
	Description string     `json:"description"`
	Hostname    string     `json:"hostname"`
	Port        *int       `json:"port"`
	InitCmd     string     `json:"init_cmd"`
	InstallCmds []string   `json:"install_cmds"`
	KillSignal  KillSignal `json:"kill_signal"`
	Online      bool       `json:"online"`
	ProcessPID  *int       `json:"process_pid"`
	ContentDir  string     `json:"content_dir"`
	Resources   Resources  `json:"resources"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Running reports whether the record claims a live child.
func (s *Server) Running() bool {
	return s.Online && s.ProcessPID != nil
}

// DefaultHostname is the bind address recorded when a create request has none.
const DefaultHostname = "0.0.0.0"

// Resources are declared quotas. They are stored, never enforced.
type Resources struct {
	RAM     Capacity `json:"RAM"`
	CPU     CPUShare `json:"CPU"`
	Storage Capacity `json:"STORAGE"`
}

// DefaultResources is 1024 MiB of RAM, unlimited CPU (-1) and 2048 MiB of storage.
func DefaultResources() Resources {
	return Resources{
		RAM:     Capacity{Total: 1024},
		CPU:     CPUShare{Allowed: -1},
		Storage: Capacity{Total: 2048},
	}
}

type Capacity struct {
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

type CPUShare struct {
	Used    float64 `json:"used"`
	Allowed float64 `json:"allowed"`
}

// KillSignal is the preferred way to stop a server: a signal number ("2"),
// a signal name ("SIGINT", "TERM") or a console command written to stdin
// ("stop"). In JSON a signal number is stored as a number.
type KillSignal string

func (k KillSignal) MarshalJSON() ([]byte, error) {
	if n, err := strconv.Atoi(string(k)); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(k))
}

func (k *KillSignal) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*k = KillSignal(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*k = KillSignal(s)
	return nil
}
