// Package sessions issues, validates and expires bearer tokens bound to
// accounts. Tokens and the accounts' current_session pointers live in the
// settings document and are always changed together under one locked update.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/config"
	"github.com/dmitrijs2005/rosepanel/internal/server/kvstore"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/google/uuid"
)

const tokenBytes = 64

// Activity event names.
const (
	EventCreated   = "session_created"
	EventContinued = "session_continued"
)

// errUnchanged aborts an Update without writing.
var errUnchanged = errors.New("unchanged")

// Session is a token together with its record, as listed to operators.
type Session struct {
	Token  string
	Record models.Token
}

type Manager struct {
	settings *kvstore.File
	lifespan time.Duration
	oneToken bool
	now      func() time.Time
	newToken func() (string, error)
	log      logging.Logger
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(fn func() (string, error)) Option {
	return func(m *Manager) { m.newToken = fn }
}

func NewManager(settings *kvstore.File, cfg *config.Config, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		settings: settings,
		lifespan: cfg.TokenLifespan,
		oneToken: cfg.OneTokenAccounts,
		now:      time.Now,
		newToken: func() (string, error) { return common.RandomURLSafe(tokenBytes) },
		log:      log.With("module", "sessions"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue returns a token for email. In single-session mode a live current
// session is reused; otherwise a fresh token replaces it.
func (m *Manager) Issue(ctx context.Context, email string) (string, error) {
	var doc models.Settings
	var token string
	reused := false

	err := m.settings.Update(ctx, &doc, func() error {
		doc.Init()
		acct, ok := doc.Accounts[email]
		if !ok || email == "" {
			return common.ErrAccountNotFound
		}
		now := m.now()

		if m.oneToken && acct.CurrentSession != "" {
			if t, ok := doc.Tokens[acct.CurrentSession]; ok && !t.Expired(now) {
				t.Record(m.event(EventContinued, now))
				token, reused = acct.CurrentSession, true
				return nil
			}
		}

		fresh, err := m.mint(doc.Tokens)
		if err != nil {
			return err
		}
		if m.oneToken && acct.CurrentSession != "" {
			delete(doc.Tokens, acct.CurrentSession)
		}
		t := &models.Token{BelongsTo: email, ExpireOn: now.Add(m.lifespan)}
		t.Record(m.event(EventCreated, now))
		doc.Tokens[fresh] = t
		acct.CurrentSession = fresh
		token = fresh
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}

	m.log.Info(ctx, "session issued", "email", email, "token", logging.ShortToken(token), "reused", reused)
	return token, nil
}

// mint draws tokens until one is free of the key separator and unused.
func (m *Manager) mint(existing map[string]*models.Token) (string, error) {
	for {
		t, err := m.newToken()
		if err != nil {
			return "", err
		}
		if t == "" || strings.Contains(t, "/") {
			continue
		}
		if _, taken := existing[t]; taken {
			continue
		}
		return t, nil
	}
}

func (m *Manager) event(name string, at time.Time) models.Activity {
	return models.Activity{ID: uuid.NewString(), Event: name, At: at}
}

// Validate returns the email owning token, or ErrInvalidToken when the token
// is unknown or expired.
func (m *Manager) Validate(ctx context.Context, token string) (string, error) {
	if token == "" || strings.Contains(token, kvstore.Separator) {
		return "", common.ErrInvalidToken
	}
	var t models.Token
	found, err := m.settings.Lookup(ctx, kvstore.Key("tokens", token), &t)
	if err != nil {
		return "", err
	}
	if !found || t.Expired(m.now()) {
		return "", common.ErrInvalidToken
	}
	return t.BelongsTo, nil
}

// Revoke deletes token and detaches it from its owner. It reports false when
// the token did not exist.
func (m *Manager) Revoke(ctx context.Context, token string) (bool, error) {
	var doc models.Settings
	var owner string

	err := m.settings.Update(ctx, &doc, func() error {
		doc.Init()
		t, ok := doc.Tokens[token]
		if !ok {
			return errUnchanged
		}
		owner = t.BelongsTo
		delete(doc.Tokens, token)
		if acct, ok := doc.Accounts[owner]; ok && acct.CurrentSession == token {
			acct.CurrentSession = ""
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}

	m.log.Info(ctx, "session revoked", "email", owner, "token", logging.ShortToken(token))
	return true, nil
}

// Find returns the current session of email, "" when there is none.
func (m *Manager) Find(ctx context.Context, email string) (string, error) {
	var acct models.Account
	found, err := m.settings.Lookup(ctx, kvstore.Key("accounts", email), &acct)
	if err != nil {
		return "", err
	}
	if !found {
		return "", common.ErrAccountNotFound
	}
	return acct.CurrentSession, nil
}

// List returns every stored session ordered by expiry.
func (m *Manager) List(ctx context.Context) ([]Session, error) {
	var doc models.Settings
	if _, err := m.settings.LoadAll(ctx, &doc); err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(doc.Tokens))
	for tok, t := range doc.Tokens {
		if t != nil {
			out = append(out, Session{Token: tok, Record: *t})
		}
	}
	slices.SortFunc(out, func(a, b Session) int { return a.Record.ExpireOn.Compare(b.Record.ExpireOn) })
	return out, nil
}

// ClearAll removes every session and returns how many were dropped.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	var doc models.Settings
	var n int
	err := m.settings.Update(ctx, &doc, func() error {
		doc.Init()
		n = len(doc.Tokens)
		clear(doc.Tokens)
		for _, acct := range doc.Accounts {
			acct.CurrentSession = ""
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	m.log.Info(ctx, "sessions cleared", "count", n)
	return n, nil
}
