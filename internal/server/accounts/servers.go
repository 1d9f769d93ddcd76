package accounts

import (
	"context"

	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/dmitrijs2005/rosepanel/internal/server/permissions"
	"github.com/dmitrijs2005/rosepanel/internal/server/thorns"
)

// ListServers lists the caller's servers, or every server when ownOnly is
// false.
func (m *Manager) ListServers(ctx context.Context, acct *Account, ownOnly bool) ([]models.Server, error) {
	needed := []permissions.Permission{permissions.ListServers}
	owner := acct.Email
	if !ownOnly {
		needed = append(needed, permissions.ListOthersServers)
		owner = ""
	}
	if err := m.perms.Require(ctx, acct.Email, needed...); err != nil {
		return nil, err
	}
	return m.thorns.List(ctx, owner)
}

// CreateServer creates a server owned by acct.
func (m *Manager) CreateServer(ctx context.Context, acct *Account, req thorns.CreateRequest) (*thorns.CreateResult, error) {
	if err := m.perms.Require(ctx, acct.Email, permissions.CreateServers); err != nil {
		return nil, err
	}
	req.Owner = acct.Email
	return m.thorns.Create(ctx, req)
}

func (m *Manager) StartServer(ctx context.Context, acct *Account, idOrName string) (*thorns.Handle, error) {
	suid, err := m.authorize(ctx, acct, idOrName, permissions.EditServers)
	if err != nil {
		return nil, err
	}
	return m.thorns.Start(ctx, suid, acct.Email)
}

func (m *Manager) StopServer(ctx context.Context, acct *Account, idOrName string) error {
	suid, err := m.authorize(ctx, acct, idOrName, permissions.EditServers)
	if err != nil {
		return err
	}
	return m.thorns.Stop(ctx, suid, acct.Email)
}

func (m *Manager) DeleteServer(ctx context.Context, acct *Account, idOrName string) error {
	suid, err := m.authorize(ctx, acct, idOrName, permissions.DeleteServers)
	if err != nil {
		return err
	}
	return m.thorns.Delete(ctx, suid, acct.Email)
}

// authorize checks perm and, for servers acct does not own, also
// ListOthersServers. It returns the resolved SUID.
func (m *Manager) authorize(ctx context.Context, acct *Account, idOrName string, perm permissions.Permission) (string, error) {
	if err := m.perms.Require(ctx, acct.Email, perm); err != nil {
		return "", err
	}
	srv, err := m.thorns.Get(ctx, idOrName)
	if err != nil {
		return "", err
	}
	if srv.Owner != acct.Email {
		if err := m.perms.Require(ctx, acct.Email, permissions.ListOthersServers); err != nil {
			return "", err
		}
	}
	return srv.SUID, nil
}
