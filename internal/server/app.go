// Package server wires the panel together: the settings store, accounts,
// sessions, the process manager, the gRPC surface and the operator console.
// It also owns signal handling and the shutdown policy.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/rosepanel/internal/filex"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/accounts"
	"github.com/dmitrijs2005/rosepanel/internal/server/cli"
	"github.com/dmitrijs2005/rosepanel/internal/server/config"
	"github.com/dmitrijs2005/rosepanel/internal/server/kvstore"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/dmitrijs2005/rosepanel/internal/server/permissions"
	"github.com/dmitrijs2005/rosepanel/internal/server/sessions"
	"github.com/dmitrijs2005/rosepanel/internal/server/thorns"

	gs "github.com/dmitrijs2005/rosepanel/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	sessions *sessions.Manager
	reaper   *sessions.Reaper
	thorns   *thorns.Manager
	accounts *accounts.Manager
	grpc     *gs.GRPCServer
	console  *cli.Console
}

// logOutput receives the JSON log stream. The console owns stdout.
var logOutput io.Writer = os.Stderr

// NewApp builds every component against the process's stdin and stdout.
func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewJSON(logOutput, slog.LevelInfo)
	return newApp(c, logger, os.Stdin, os.Stdout)
}

func newApp(c *config.Config, logger logging.Logger, in io.Reader, out io.Writer) (*App, error) {
	if _, err := filex.EnsureDir(c.ServersDir()); err != nil {
		return nil, err
	}

	store := kvstore.New(kvstore.WithLockTimeout(c.LockTimeout))
	settings := store.File(c.SettingsPath(), models.DefaultSettings())

	pe := permissions.NewEngine(settings, logger)
	ss := sessions.NewManager(settings, c, logger)
	th := thorns.New(store, c, logger)
	am := accounts.NewManager(settings, ss, pe, th, c, logger)

	return &App{
		config:   c,
		logger:   logger,
		sessions: ss,
		reaper:   sessions.NewReaper(settings, c, logger),
		thorns:   th,
		accounts: am,
		grpc:     gs.NewGRPCServer(c.Address(), logger, am),
		console:  cli.NewConsole(c, am, ss, th, logger, in, out),
	}, nil
}

// Run blocks until the operator leaves the console, a termination signal
// arrives or a background task fails. Shutdown always runs before it returns.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.logger.Info(ctx, "Starting app...", "address", app.config.Address(), "data_dir", app.config.DataDir)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.reaper.Run(gctx) })
	g.Go(func() error { return app.grpc.Run(gctx) })

	// The console blocks on stdin, so it is not waited for.
	go func() {
		defer cancel()
		if err := app.console.Run(gctx); err != nil {
			app.logger.Error(gctx, "console stopped", "error", err)
		}
	}()

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "background task failed", "error", err)
	}
	return errors.Join(err, app.shutdown())
}

func (app *App) shutdown() error {
	ctx := context.Background()
	app.logger.Info(ctx, "Shutting down...")

	var errs []error
	if err := app.thorns.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if app.config.ClearSessionsOnExit {
		n, err := app.sessions.ClearAll(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			app.logger.Info(ctx, "sessions cleared", "count", n)
		}
	}
	return errors.Join(errs...)
}
