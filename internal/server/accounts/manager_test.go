//go:build unix

package accounts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/config"
	"github.com/dmitrijs2005/rosepanel/internal/server/kvstore"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/dmitrijs2005/rosepanel/internal/server/permissions"
	"github.com/dmitrijs2005/rosepanel/internal/server/sessions"
	"github.com/dmitrijs2005/rosepanel/internal/server/thorns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	accounts *Manager
	perms    *permissions.Engine
	sessions *sessions.Manager
	thorns   *thorns.Manager
	settings *kvstore.File
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.StopStepTimeout = 300 * time.Millisecond

	log := logging.Nop()
	store := kvstore.New(kvstore.WithLockTimeout(cfg.LockTimeout))
	settings := store.File(cfg.SettingsPath(), models.DefaultSettings())
	pe := permissions.NewEngine(settings, log)
	ss := sessions.NewManager(settings, cfg, log)
	th := thorns.New(store, cfg, log)
	t.Cleanup(func() { _ = th.StopAll(context.Background()) })

	return &fixture{
		accounts: NewManager(settings, ss, pe, th, cfg, log),
		perms:    pe,
		sessions: ss,
		thorns:   th,
		settings: settings,
	}
}

func (f *fixture) register(t *testing.T, email string, held ...permissions.Permission) *Account {
	t.Helper()
	ctx := context.Background()
	acct, err := f.accounts.RegisterOrLogin(ctx, email, "pw-"+email, true)
	require.NoError(t, err)
	for _, p := range held {
		require.NoError(t, f.perms.SetPermission(ctx, common.BootstrapActor, email, p, true))
	}
	return acct
}

func TestRegisterThenLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	reg, err := f.accounts.RegisterOrLogin(ctx, "a@b.com", "pw1", true)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", reg.Email)
	assert.NotEmpty(t, reg.CurrentSession)
	assert.Empty(t, reg.Permissions.Held())

	login, err := f.accounts.RegisterOrLogin(ctx, "a@b.com", "pw1", false)
	require.NoError(t, err)

	email, err := f.sessions.Validate(ctx, login.CurrentSession)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", email)

	var stored models.Account
	_, err = f.settings.Lookup(ctx, kvstore.Key("accounts", "a@b.com"), &stored)
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", stored.Password)
}

func TestRegister_Failures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "a@b.com")

	_, err := f.accounts.RegisterOrLogin(ctx, "a@b.com", "other", true)
	assert.ErrorIs(t, err, common.ErrAccountAlreadyExists)

	_, err = f.accounts.RegisterOrLogin(ctx, "", "", true)
	require.ErrorIs(t, err, common.ErrMissingRequiredFields)
	var fe *common.FieldsError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, []string{"email_address", "password"}, fe.Fields)

	_, err = f.accounts.RegisterOrLogin(ctx, "//", "pw", true)
	assert.ErrorIs(t, err, common.ErrMissingRequiredFields)
}

func TestLogin_Failures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "a@b.com")

	_, err := f.accounts.RegisterOrLogin(ctx, "a@b.com", "wrong", false)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = f.accounts.RegisterOrLogin(ctx, "a@b.com", "", false)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = f.accounts.RegisterOrLogin(ctx, "nobody@b.com", "pw", false)
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
}

func TestPasswordsAreNotSanitized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.accounts.RegisterOrLogin(ctx, "a@b.com", "p/a$$//w0rd!", true)
	require.NoError(t, err)

	_, err = f.accounts.RegisterOrLogin(ctx, "a@b.com", "pa$$w0rd", false)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	_, err = f.accounts.RegisterOrLogin(ctx, "a@b.com", "p/a$$//w0rd!", false)
	assert.NoError(t, err)
}

func TestResolveAndLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.register(t, "a@b.com", permissions.ListServers)

	got, err := f.accounts.Resolve(ctx, acct.CurrentSession)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", got.Email)
	assert.True(t, got.Permissions[permissions.ListServers])

	_, err = f.accounts.Resolve(ctx, "bogus")
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	ok, err := f.accounts.Logout(ctx, got)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.accounts.Resolve(ctx, acct.CurrentSession)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.accounts.FirstStart(ctx)
	require.NoError(t, err)
	assert.True(t, first)

	root, err := f.accounts.Bootstrap(ctx, "root@panel.io", "secret")
	require.NoError(t, err)
	assert.True(t, root.Permissions[permissions.Administrator])

	first, err = f.accounts.FirstStart(ctx)
	require.NoError(t, err)
	assert.False(t, first)

	var doc models.Settings
	_, err = f.settings.LoadAll(ctx, &doc)
	require.NoError(t, err)
	assert.Equal(t, "root@panel.io", doc.RootEmail)
	rootEmail, err := f.accounts.RootEmail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root@panel.io", rootEmail)
	assert.NotEmpty(t, doc.WorkingDirectory)

	assert.NoError(t, f.perms.Require(ctx, "root@panel.io", permissions.All...))
}

func TestServerFacade_Permissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.register(t, "owner@b.com", permissions.CreateServers, permissions.ListServers, permissions.EditServers)
	other := f.register(t, "other@b.com", permissions.ListServers, permissions.EditServers, permissions.DeleteServers)

	_, err := f.accounts.CreateServer(ctx, other, thorns.CreateRequest{Identifier: "x", InitCmd: "true"})
	var pe *common.PermissionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "CREATE_SERVERS", pe.Name)

	res, err := f.accounts.CreateServer(ctx, owner, thorns.CreateRequest{Identifier: "mine", InitCmd: "sleep 100", Owner: "spoofed@b.com"})
	require.NoError(t, err)
	require.True(t, res.Created)

	own, err := f.accounts.ListServers(ctx, owner, true)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "owner@b.com", own[0].Owner)

	_, err = f.accounts.ListServers(ctx, owner, false)
	assert.ErrorIs(t, err, common.ErrInsufficientPermissions)

	err = f.accounts.StopServer(ctx, other, "mine")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "LIST_OTHERS_SERVERS", pe.Name)

	err = f.accounts.DeleteServer(ctx, owner, "mine")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "DELETE_SERVERS", pe.Name)

	require.NoError(t, f.perms.SetPermission(ctx, common.BootstrapActor, "other@b.com", permissions.ListOthersServers, true))
	all, err := f.accounts.ListServers(ctx, other, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	require.NoError(t, f.accounts.DeleteServer(ctx, other, "mine"))
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acct, err := f.accounts.RegisterOrLogin(ctx, "a@b.com", "pw1", true)
	require.NoError(t, err)
	require.NoError(t, f.perms.SetPermission(ctx, common.BootstrapActor, "a@b.com", permissions.Administrator, true))

	res, err := f.accounts.CreateServer(ctx, acct, thorns.CreateRequest{Identifier: "test", InitCmd: "sleep 100"})
	require.NoError(t, err)
	require.True(t, res.Created)

	srv, err := f.thorns.Get(ctx, "test")
	require.NoError(t, err)
	assert.False(t, srv.Online)

	h, err := f.accounts.StartServer(ctx, acct, "test")
	require.NoError(t, err)
	srv, err = f.thorns.Get(ctx, "test")
	require.NoError(t, err)
	assert.True(t, srv.Online)
	require.NotNil(t, srv.ProcessPID)

	require.NoError(t, f.accounts.StopServer(ctx, acct, "test"))
	srv, err = f.thorns.Get(ctx, "test")
	require.NoError(t, err)
	assert.False(t, srv.Online)
	assert.Nil(t, srv.ProcessPID)
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child still running after stop")
	}

	require.NoError(t, f.accounts.DeleteServer(ctx, acct, "test"))
	_, err = f.accounts.StartServer(ctx, acct, "test")
	assert.ErrorIs(t, err, common.ErrServerDoesNotExist)
}

func TestSetPermission_NeedsManagePermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	manager := f.register(t, "boss@b.com", permissions.ManagePermissions)
	plain := f.register(t, "plain@b.com")

	err := f.accounts.SetPermission(ctx, plain, "boss@b.com", permissions.Administrator, true)
	var pe *common.PermissionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "MANAGE_PERMISSIONS", pe.Name)

	require.NoError(t, f.accounts.SetPermission(ctx, manager, "plain@b.com", permissions.ListServers, true))
	set, err := f.perms.Load(ctx, "plain@b.com")
	require.NoError(t, err)
	assert.Equal(t, []permissions.Permission{permissions.ListServers}, set.Held())

	err = f.accounts.SetPermission(ctx, manager, "ghost@b.com", permissions.ListServers, true)
	assert.ErrorIs(t, err, common.ErrAccountNotFound)

	assert.ErrorIs(t, f.accounts.SetPermission(ctx, nil, "plain@b.com", permissions.ListServers, true), common.ErrInvalidToken)
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(common.ErrInvalidToken))
	assert.True(t, IsAuthError(fmt.Errorf("resolve: %w", common.ErrAccountNotFound)))
	assert.True(t, IsAuthError(&common.PermissionError{Permission: 16, Name: "EDIT_SERVERS"}))
	assert.False(t, IsAuthError(errors.New("disk full")))
	assert.False(t, IsAuthError(common.ErrServerDoesNotExist))
}
