// Package thorns manages the lifecycle of child "server" processes.
//
// Every server lives in its own directory, servers/<suid>, holding a
// config.json record and a content/ working directory. The record is the
// durable source of truth; all mutations of it are locked read-modify-writes.
// A server is either Stopped (online=false, no pid) or Running (online=true,
// pid set).
package thorns

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/config"
	"github.com/dmitrijs2005/rosepanel/internal/server/kvstore"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/gofrs/flock"
)

const (
	configName  = "config.json"
	contentName = "content"
	consoleName = "console.log"
)

type Manager struct {
	store       *kvstore.Store
	root        string
	stepTimeout time.Duration
	lockTimeout time.Duration
	log         logging.Logger
	newSUID     func() (string, error)

	mu    sync.Mutex
	procs map[string]*process
}

func New(store *kvstore.Store, cfg *config.Config, log logging.Logger) *Manager {
	return &Manager{
		store:       store,
		root:        cfg.ServersDir(),
		stepTimeout: cfg.StopStepTimeout,
		lockTimeout: cfg.LockTimeout,
		log:         log.With("module", "thorns"),
		newSUID:     NewSUID,
		procs:       map[string]*process{},
	}
}

// CreateRequest describes a new server. Progress, when set, is called before
// and after every install command.
type CreateRequest struct {
	Identifier  string
	Description string
	Owner       string
	InitCmd     string
	InstallCmds []string
	KillSignal  models.KillSignal
	Hostname    string
	Port        *int
	Resources   models.Resources
	Progress    func(InstallStep)
}

// InstallStep reports one install command starting (Finished=false) or
// finishing.
type InstallStep struct {
	Index    int
	Total    int
	Command  string
	Finished bool
	Err      error
}

// CreateResult is the outcome of Create. Created is false when the record
// could not be written; InstallErr and FailedAt describe a partial install,
// which is left in place for inspection.
type CreateResult struct {
	SUID       string
	Created    bool
	Err        error
	InstallErr error
	FailedAt   int
}

// Create allocates a SUID, writes the record and content directory, then
// runs the install commands in order. It blocks until they finish.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	name := strings.TrimSpace(req.Identifier)
	switch {
	case name == "":
		return nil, common.MissingFields("identifier")
	case IsSUID(name):
		return nil, fmt.Errorf("%w: %q must not start with %q", common.ErrInvalidServerName, name, SUIDPrefix)
	}

	unlock, err := m.lockRoot(ctx)
	if err != nil {
		return nil, err
	}
	srv, err := m.allocate(ctx, name, req)
	unlock()
	if err != nil {
		var fe *fsError
		if errors.As(err, &fe) {
			m.log.Error(ctx, "cannot create server", "identifier", name, "error", err)
			return &CreateResult{Created: false, Err: err, FailedAt: -1}, nil
		}
		return nil, err
	}

	m.log.Info(ctx, "server created", "suid", srv.SUID, "identifier", name, "owner", req.Owner)

	res := &CreateResult{SUID: srv.SUID, Created: true, FailedAt: -1}
	if idx, err := m.install(ctx, srv, req.Progress); err != nil {
		res.InstallErr, res.FailedAt = err, idx
		m.log.Warn(ctx, "install failed", "suid", srv.SUID, "step", idx, "error", err)
	}
	return res, nil
}

// fsError marks filesystem failures that Create reports as a failed result
// rather than an error.
type fsError struct{ err error }

func (e *fsError) Error() string { return e.err.Error() }
func (e *fsError) Unwrap() error { return e.err }

// allocate must run under the root lock so that concurrent creators see each
// other's names and directories.
func (m *Manager) allocate(ctx context.Context, name string, req CreateRequest) (*models.Server, error) {
	existing, err := m.List(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		if strings.EqualFold(s.Identifier, name) {
			return nil, fmt.Errorf("%w: %q", common.ErrServerExists, name)
		}
	}

	var suid string
	for {
		suid, err = m.newSUID()
		if err != nil {
			return nil, err
		}
		_, err := os.Stat(m.dir(suid))
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, &fsError{err}
		}
	}

	content, err := filepath.Abs(filepath.Join(m.dir(suid), contentName))
	if err != nil {
		return nil, &fsError{err}
	}
	if err := os.MkdirAll(content, 0o750); err != nil {
		return nil, &fsError{err}
	}

	srv := &models.Server{
		SUID:        suid,
		Identifier:  name,
		Owner:       req.Owner,
		Description: req.Description,
		Hostname:    req.Hostname,
		Port:        req.Port,
		InitCmd:     req.InitCmd,
		InstallCmds: slices.Clone(req.InstallCmds),
		KillSignal:  req.KillSignal,
		ContentDir:  content,
		Resources:   req.Resources,
		CreatedAt:   time.Now().UTC(),
	}
	if srv.InstallCmds == nil {
		srv.InstallCmds = []string{}
	}
	if srv.KillSignal == "" {
		srv.KillSignal = "2"
	}
	if strings.TrimSpace(srv.Hostname) == "" {
		srv.Hostname = models.DefaultHostname
	}
	if srv.Resources == (models.Resources{}) {
		srv.Resources = models.DefaultResources()
	}
	if err := m.record(suid).Fill(ctx, srv); err != nil {
		return nil, &fsError{err}
	}
	return srv, nil
}

func (m *Manager) lockRoot(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(m.root, 0o750); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	lock := flock.New(filepath.Join(m.root, ".create.lock"))
	ok, err := lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", m.root, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", m.root)
	}
	return func() { _ = lock.Unlock() }, nil
}

// Get loads the record of the server named by idOrName.
func (m *Manager) Get(ctx context.Context, idOrName string) (*models.Server, error) {
	suid, err := m.Resolve(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	return m.load(ctx, suid)
}

// List returns every server owned by owner, or all servers when owner is
// empty, sorted by identifier. Unreadable records are skipped.
func (m *Manager) List(ctx context.Context, owner string) ([]models.Server, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []models.Server
	for _, e := range entries {
		if !e.IsDir() || !IsSUID(e.Name()) {
			continue
		}
		srv, err := m.load(ctx, e.Name())
		if err != nil {
			m.log.Warn(ctx, "skipping unreadable server record", "suid", e.Name(), "error", err)
			continue
		}
		if owner == "" || srv.Owner == owner {
			out = append(out, *srv)
		}
	}
	slices.SortFunc(out, func(a, b models.Server) int {
		return strings.Compare(strings.ToLower(a.Identifier), strings.ToLower(b.Identifier))
	})
	return out, nil
}

// Delete stops the server if it is running, then removes its directory tree.
func (m *Manager) Delete(ctx context.Context, idOrName, actor string) error {
	suid, err := m.Resolve(ctx, idOrName)
	if err != nil {
		return err
	}
	srv, err := m.load(ctx, suid)
	if err != nil {
		return err
	}
	if srv.Running() || m.owned(suid) != nil {
		if err := m.Stop(ctx, suid, actor); err != nil {
			m.log.Warn(ctx, "stop before delete failed", "suid", suid, "error", err)
		}
	}
	if err := os.RemoveAll(m.dir(suid)); err != nil {
		return fmt.Errorf("delete %s: %w", suid, err)
	}
	m.log.Info(ctx, "server deleted", "suid", suid, "identifier", srv.Identifier, "actor", actor)
	return nil
}

// StopAll stops every child started by this manager.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	suids := make([]string, 0, len(m.procs))
	for suid := range m.procs {
		suids = append(suids, suid)
	}
	m.mu.Unlock()

	var errs []error
	for _, suid := range suids {
		if err := m.Stop(ctx, suid, common.BootstrapActor); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) dir(suid string) string {
	return filepath.Join(m.root, suid)
}

func (m *Manager) record(suid string) *kvstore.File {
	return m.store.File(filepath.Join(m.dir(suid), configName), nil)
}

func (m *Manager) load(ctx context.Context, suid string) (*models.Server, error) {
	var srv models.Server
	if _, err := m.record(suid).LoadAll(ctx, &srv); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", common.ErrServerDoesNotExist, suid)
		}
		return nil, err
	}
	srv.SUID = suid
	return &srv, nil
}
