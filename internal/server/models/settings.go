// Package models defines the documents persisted by the panel: the settings
// document (accounts and session tokens) and one config document per
// managed server.
package models

import (
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/server/permissions"
)

// MaxActivity bounds the per-token activity log.
const MaxActivity = 16

// Settings is the shape of settings.json.
type Settings struct {
	FirstStart       bool                `json:"first_start"`
	RootEmail        string              `json:"root_email,omitempty"`
	WorkingDirectory string              `json:"working_directory,omitempty"`
	Accounts         map[string]*Account `json:"accounts"`
	Tokens           map[string]*Token   `json:"tokens"`
}

// DefaultSettings is the document written when settings.json is absent.
func DefaultSettings() Settings {
	return Settings{
		FirstStart: true,
		Accounts:   map[string]*Account{},
		Tokens:     map[string]*Token{},
	}
}

// Init allocates nil maps so callers can assign into them.
func (s *Settings) Init() {
	if s.Accounts == nil {
		s.Accounts = map[string]*Account{}
	}
	if s.Tokens == nil {
		s.Tokens = map[string]*Token{}
	}
}

type Account struct {
	Email          string          `json:"email_address"`
	Password       string          `json:"password"`
	Permissions    permissions.Set `json:"permissions"`
	CurrentSession string          `json:"current_session"`
}

// Token is a persisted session record, keyed by the token string.
type Token struct {
	BelongsTo string     `json:"belongs_to"`
	ExpireOn  time.Time  `json:"expire_on"`
	Activity  []Activity `json:"activity"`
}

type Activity struct {
	ID    string    `json:"id"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Expired reports whether the token is dead at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpireOn)
}

// Record appends an event, keeping only the newest MaxActivity entries.
func (t *Token) Record(a Activity) {
	t.Activity = append(t.Activity, a)
	if n := len(t.Activity); n > MaxActivity {
		t.Activity = append([]Activity(nil), t.Activity[n-MaxActivity:]...)
	}
}
