package thorns

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/google/shlex"
)

// install runs srv's install commands in order inside its content
// directory. On failure it returns the index of the failing command.
func (m *Manager) install(ctx context.Context, srv *models.Server, progress func(InstallStep)) (int, error) {
	if len(srv.InstallCmds) == 0 {
		return -1, nil
	}
	if progress == nil {
		progress = func(InstallStep) {}
	}

	console, err := m.openConsole(srv.SUID)
	if err != nil {
		return 0, err
	}
	defer console.Close()

	total := len(srv.InstallCmds)
	for i, line := range srv.InstallCmds {
		progress(InstallStep{Index: i, Total: total, Command: line})
		m.log.Info(ctx, "running install step", "suid", srv.SUID, "step", i, "command", line)

		err := runCommand(ctx, srv.ContentDir, line, console)
		progress(InstallStep{Index: i, Total: total, Command: line, Finished: true, Err: err})
		if err != nil {
			return i, fmt.Errorf("install step %d %q: %w", i, line, err)
		}
	}
	return -1, nil
}

func runCommand(ctx context.Context, dir, line string, out *os.File) error {
	argv, err := splitCommand(line)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// splitCommand parses a shell-style command line into an argument vector.
func splitCommand(line string) ([]string, error) {
	argv, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

// openConsole opens the server's append-only output log.
func (m *Manager) openConsole(suid string) (*os.File, error) {
	return os.OpenFile(filepath.Join(m.dir(suid), consoleName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}
