package permissions

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/kvstore"
)

// Engine checks and mutates the permission sets stored in the settings
// document under accounts//<email>//permissions.
type Engine struct {
	settings *kvstore.File
	log      logging.Logger
}

func NewEngine(settings *kvstore.File, log logging.Logger) *Engine {
	return &Engine{settings: settings, log: log.With("module", "permissions")}
}

// Load returns the normalized permission set of email.
func (e *Engine) Load(ctx context.Context, email string) (Set, error) {
	var acct struct {
		Permissions Set `json:"permissions"`
	}
	found, err := e.settings.Lookup(ctx, kvstore.Key("accounts", email), &acct)
	if err != nil {
		return nil, err
	}
	if !found || email == "" {
		return nil, common.ErrAccountNotFound
	}
	return Normalize(acct.Permissions), nil
}

// Require fails with a *common.PermissionError naming the first permission
// subject lacks. Administrators pass every check.
func (e *Engine) Require(ctx context.Context, subject string, perms ...Permission) error {
	set, err := e.Load(ctx, subject)
	if err != nil {
		return err
	}
	if ok, missing := Check(set, perms...); !ok {
		e.log.Debug(ctx, "permission denied", "subject", subject, "missing", Name(missing))
		return &common.PermissionError{Permission: uint64(missing), Name: Name(missing)}
	}
	return nil
}

// SetPermission grants or revokes perm on target. The actor needs
// ManagePermissions unless it is the bootstrap actor.
func (e *Engine) SetPermission(ctx context.Context, actor, target string, perm Permission, value bool) error {
	if _, ok := names[perm]; !ok {
		return fmt.Errorf("set permission: %s", Name(perm))
	}
	if actor != common.BootstrapActor {
		if err := e.Require(ctx, actor, ManagePermissions); err != nil {
			return err
		}
	}
	if _, err := e.Load(ctx, target); err != nil {
		return err
	}

	key := kvstore.Key("accounts", target, "permissions", strconv.FormatUint(uint64(perm), 10))
	if err := e.settings.Set(ctx, key, value); err != nil {
		return fmt.Errorf("set permission: %w", err)
	}
	e.log.Info(ctx, "permission changed", "actor", actor, "target", target, "permission", Name(perm), "value", value)
	return nil
}
