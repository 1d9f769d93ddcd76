package thorns

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
)

// Start launches the server's init command in its own process group, records
// the pid and returns a handle on the child's stdin. It does not wait for the
// child to settle.
func (m *Manager) Start(ctx context.Context, idOrName, actor string) (*Handle, error) {
	suid, err := m.Resolve(ctx, idOrName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	srv, err := m.load(ctx, suid)
	if err != nil {
		return nil, err
	}
	if p := m.procs[suid]; p != nil && !p.exited() {
		return nil, fmt.Errorf("%w: %s (pid %d)", common.ErrServerRunning, suid, p.pid)
	}
	if srv.Running() && alive(*srv.ProcessPID) {
		return nil, fmt.Errorf("%w: %s (pid %d)", common.ErrServerRunning, suid, *srv.ProcessPID)
	}

	argv, err := splitCommand(srv.InitCmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", suid, err)
	}

	console, err := m.openConsole(suid)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", suid, err)
	}

	// not CommandContext: the child outlives the request
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = srv.ContentDir
	cmd.Stdout = console
	cmd.Stderr = console
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		console.Close()
		return nil, fmt.Errorf("start %s: %w", suid, err)
	}
	if err := cmd.Start(); err != nil {
		console.Close()
		return nil, fmt.Errorf("start %s: %w", suid, err)
	}

	p := &process{suid: suid, pid: cmd.Process.Pid, stdin: stdin, done: make(chan struct{})}
	m.procs[suid] = p

	go func() {
		err := cmd.Wait()
		console.Close()
		close(p.done)
		m.exited(p, err)
	}()

	pid := p.pid
	err = m.record(suid).Update(ctx, srv, func() error {
		srv.Online = true
		srv.ProcessPID = &pid
		return nil
	})
	if err != nil {
		m.log.Error(ctx, "cannot record pid, killing child", "suid", suid, "pid", pid, "error", err)
		_ = signalGroup(pid, sigKill)
		return nil, fmt.Errorf("start %s: %w", suid, err)
	}

	m.log.Info(ctx, "server started", "suid", suid, "identifier", srv.Identifier, "pid", pid, "actor", actor)
	return &Handle{p: p}, nil
}

// exited runs once a child has been reaped. A record still pointing at the
// child's pid is marked Stopped.
func (m *Manager) exited(p *process, waitErr error) {
	ctx := context.Background()

	m.mu.Lock()
	if m.procs[p.suid] == p {
		delete(m.procs, p.suid)
	}
	m.mu.Unlock()

	var srv models.Server
	err := m.record(p.suid).Update(ctx, &srv, func() error {
		if srv.ProcessPID == nil || *srv.ProcessPID != p.pid {
			return errUnchanged
		}
		srv.Online = false
		srv.ProcessPID = nil
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) && !errors.Is(err, common.ErrNotFound) {
		m.log.Warn(ctx, "cannot mark exited server stopped", "suid", p.suid, "error", err)
	}
	m.log.Info(ctx, "server process exited", "suid", p.suid, "pid", p.pid, "status", exitStatus(waitErr))
}

var errUnchanged = errors.New("unchanged")

func (m *Manager) owned(suid string) *process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.procs[suid]
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
