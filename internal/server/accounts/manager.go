// Package accounts registers and authenticates users and is the
// permission-checked entry point to server management.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/cryptox"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/config"
	"github.com/dmitrijs2005/rosepanel/internal/server/kvstore"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/dmitrijs2005/rosepanel/internal/server/permissions"
	"github.com/dmitrijs2005/rosepanel/internal/server/sessions"
	"github.com/dmitrijs2005/rosepanel/internal/server/thorns"
)

// Account is an authenticated user. CurrentSession is the token issued by
// the login that produced it.
type Account struct {
	Email          string
	Permissions    permissions.Set
	CurrentSession string
}

type Manager struct {
	settings *kvstore.File
	sessions *sessions.Manager
	perms    *permissions.Engine
	thorns   *thorns.Manager
	dataDir  string
	log      logging.Logger
}

func NewManager(settings *kvstore.File, ss *sessions.Manager, pe *permissions.Engine, th *thorns.Manager, cfg *config.Config, log logging.Logger) *Manager {
	return &Manager{
		settings: settings,
		sessions: ss,
		perms:    pe,
		thorns:   th,
		dataDir:  cfg.DataDir,
		log:      log.With("module", "accounts"),
	}
}

// RegisterOrLogin creates the account first when registering, then logs in
// and issues a session.
func (m *Manager) RegisterOrLogin(ctx context.Context, email, password string, registering bool) (*Account, error) {
	email = Sanitize(email)

	if registering {
		if err := m.register(ctx, email, password); err != nil {
			return nil, err
		}
	}

	stored, err := m.load(ctx, email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, common.ErrInvalidCredentials
	}
	ok, err := cryptox.VerifyPassword(password, stored.Password)
	if err != nil {
		m.log.Error(ctx, "stored password hash is unusable", "email", email, "error", err)
		return nil, common.ErrInvalidCredentials
	}
	if !ok {
		m.log.Info(ctx, "login rejected", "email", email)
		return nil, common.ErrInvalidCredentials
	}

	token, err := m.sessions.Issue(ctx, email)
	if err != nil {
		return nil, err
	}
	m.log.Info(ctx, "logged in", "email", email)
	return &Account{Email: email, Permissions: permissions.Normalize(stored.Permissions), CurrentSession: token}, nil
}

func (m *Manager) register(ctx context.Context, email, password string) error {
	var missing []string
	if email == "" {
		missing = append(missing, "email_address")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return common.MissingFields(missing...)
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var doc models.Settings
	err = m.settings.Update(ctx, &doc, func() error {
		doc.Init()
		if _, exists := doc.Accounts[email]; exists {
			return common.ErrAccountAlreadyExists
		}
		doc.Accounts[email] = &models.Account{
			Email:       email,
			Password:    hash,
			Permissions: permissions.NewSet(),
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info(ctx, "account registered", "email", email)
	return nil
}

// Resolve returns the account owning a live token.
func (m *Manager) Resolve(ctx context.Context, token string) (*Account, error) {
	token = Sanitize(token)
	email, err := m.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	stored, err := m.load(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Account{Email: email, Permissions: permissions.Normalize(stored.Permissions), CurrentSession: token}, nil
}

// Logout revokes the account's session.
func (m *Manager) Logout(ctx context.Context, acct *Account) (bool, error) {
	if acct == nil || acct.CurrentSession == "" {
		return false, nil
	}
	return m.sessions.Revoke(ctx, acct.CurrentSession)
}

// SetPermission grants or revokes perm on target on behalf of acct, which
// needs ManagePermissions.
func (m *Manager) SetPermission(ctx context.Context, acct *Account, target string, perm permissions.Permission, value bool) error {
	if acct == nil {
		return common.ErrInvalidToken
	}
	return m.perms.SetPermission(ctx, acct.Email, Sanitize(target), perm, value)
}

// FirstStart reports whether the panel still needs its root account.
func (m *Manager) FirstStart(ctx context.Context) (bool, error) {
	first := true
	if _, err := m.settings.Lookup(ctx, "first_start", &first); err != nil {
		return false, err
	}
	return first, nil
}

// RootEmail returns the administrator recorded at first start.
func (m *Manager) RootEmail(ctx context.Context) (string, error) {
	var email string
	if _, err := m.settings.Lookup(ctx, "root_email", &email); err != nil {
		return "", err
	}
	return email, nil
}

// Bootstrap registers the root account, makes it an administrator and
// closes the first-start window.
func (m *Manager) Bootstrap(ctx context.Context, email, password string) (*Account, error) {
	acct, err := m.RegisterOrLogin(ctx, email, password, true)
	if err != nil {
		return nil, err
	}
	if err := m.perms.SetPermission(ctx, common.BootstrapActor, acct.Email, permissions.Administrator, true); err != nil {
		return nil, err
	}
	acct.Permissions[permissions.Administrator] = true

	wd, err := filepath.Abs(m.dataDir)
	if err != nil {
		wd, _ = os.Getwd()
	}
	var doc models.Settings
	err = m.settings.Update(ctx, &doc, func() error {
		doc.FirstStart = false
		doc.RootEmail = acct.Email
		doc.WorkingDirectory = wd
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	m.log.Info(ctx, "root account created", "email", acct.Email)
	return acct, nil
}

func (m *Manager) load(ctx context.Context, email string) (*models.Account, error) {
	if email == "" {
		return nil, common.ErrAccountNotFound
	}
	var stored models.Account
	found, err := m.settings.Lookup(ctx, kvstore.Key("accounts", email), &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, common.ErrAccountNotFound
	}
	return &stored, nil
}

// IsAuthError reports whether err is an identity or authorization failure
// rather than a storage fault.
func IsAuthError(err error) bool {
	for _, target := range []error{
		common.ErrAccountNotFound,
		common.ErrAccountAlreadyExists,
		common.ErrInvalidCredentials,
		common.ErrInvalidToken,
		common.ErrInsufficientPermissions,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
