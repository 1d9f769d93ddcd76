package thorns

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/server/models"
)

const pollInterval = 50 * time.Millisecond

// Stop terminates the server's process group, escalating from its preferred
// kill signal through SIGINT and SIGTERM to SIGKILL and waiting up to the
// step timeout for the child to die after each step. Signal failures are
// logged only. The record is always left Stopped.
func (m *Manager) Stop(ctx context.Context, idOrName, actor string) error {
	suid, err := m.Resolve(ctx, idOrName)
	if err != nil {
		return err
	}
	srv, err := m.load(ctx, suid)
	if err != nil {
		return err
	}

	p := m.owned(suid)
	pid := 0
	switch {
	case p != nil:
		pid = p.pid
	case srv.ProcessPID != nil:
		pid = *srv.ProcessPID
	}

	dead := true
	if pid > 0 {
		dead = m.terminate(ctx, suid, pid, srv.KillSignal, p)
	}

	err = m.record(suid).Update(ctx, srv, func() error {
		srv.Online = false
		srv.ProcessPID = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("stop %s: %w", suid, err)
	}

	m.log.Info(ctx, "server stopped", "suid", suid, "pid", pid, "confirmed", dead, "actor", actor)
	return nil
}

// step is one escalation action: a signal, or a console command written to
// the child's stdin.
type step struct {
	sig     syscall.Signal
	command string
}

func (s step) String() string {
	if s.command != "" {
		return "command " + strconv.Quote(s.command)
	}
	return s.sig.String()
}

// escalation returns the steps for a preferred kill signal, without repeats.
func escalation(preferred models.KillSignal) []step {
	first := parseKillSignal(preferred)
	steps := []step{first}
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM, sigKill} {
		if first.command == "" && first.sig == sig {
			continue
		}
		steps = append(steps, step{sig: sig})
	}
	return steps
}

// parseKillSignal accepts a signal number, a signal name, or anything else as
// a console command. Empty means SIGINT.
func parseKillSignal(k models.KillSignal) step {
	s := strings.TrimSpace(string(k))
	if s == "" {
		return step{sig: syscall.SIGINT}
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return step{sig: syscall.Signal(n)}
	}
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "SIG") || slices.Contains(shortSignalNames, upper) {
		if sig, ok := lookupSignal(upper); ok {
			return step{sig: sig}
		}
	}
	return step{command: s}
}

// shortSignalNames may be given without the SIG prefix. Other bare words are
// console commands, so "stop" is never read as SIGSTOP.
var shortSignalNames = []string{"HUP", "INT", "QUIT", "KILL", "TERM", "USR1", "USR2"}

// terminate reports whether the process was confirmed dead.
func (m *Manager) terminate(ctx context.Context, suid string, pid int, preferred models.KillSignal, p *process) bool {
	for _, st := range escalation(preferred) {
		if m.gone(p, pid) {
			return true
		}

		if st.command != "" {
			if p == nil {
				m.log.Warn(ctx, "no console attached, skipping stop command", "suid", suid, "command", st.command)
				continue
			}
			if _, err := p.write([]byte(st.command + "\n")); err != nil {
				m.log.Warn(ctx, "cannot send stop command", "suid", suid, "command", st.command, "error", err)
				continue
			}
		} else if err := signalGroup(pid, st.sig); err != nil {
			if errors.Is(err, os.ErrProcessDone) {
				return true
			}
			m.log.Warn(ctx, "cannot signal server", "suid", suid, "pid", pid, "signal", st.String(), "error", err)
			continue
		}

		m.log.Debug(ctx, "sent stop step", "suid", suid, "pid", pid, "step", st.String())
		if m.waitGone(ctx, p, pid) {
			return true
		}
	}

	dead := m.gone(p, pid)
	if !dead {
		m.log.Warn(ctx, "server survived every stop step", "suid", suid, "pid", pid)
	}
	return dead
}

func (m *Manager) gone(p *process, pid int) bool {
	if p != nil {
		return p.exited()
	}
	return !alive(pid)
}

func (m *Manager) waitGone(ctx context.Context, p *process, pid int) bool {
	timer := time.NewTimer(m.stepTimeout)
	defer timer.Stop()

	if p != nil {
		select {
		case <-p.done:
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return p.exited()
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !alive(pid) {
				return true
			}
		case <-timer.C:
			return !alive(pid)
		case <-ctx.Done():
			return !alive(pid)
		}
	}
}
