// Package cli is the operator console of the panel process: the first-start
// wizard and a command loop acting with the panel's own authority.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/accounts"
	"github.com/dmitrijs2005/rosepanel/internal/server/config"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
	"github.com/dmitrijs2005/rosepanel/internal/server/sessions"
	"github.com/dmitrijs2005/rosepanel/internal/server/thorns"
)

type Console struct {
	accounts  *accounts.Manager
	sessions  *sessions.Manager
	thorns    *thorns.Manager
	askToExit bool
	operator  string
	reader    *bufio.Reader
	out       io.Writer
	log       logging.Logger
}

func NewConsole(cfg *config.Config, am *accounts.Manager, sm *sessions.Manager, tm *thorns.Manager, l logging.Logger, in io.Reader, out io.Writer) *Console {
	return &Console{
		accounts:  am,
		sessions:  sm,
		thorns:    tm,
		askToExit: cfg.AskToExit,
		reader:    bufio.NewReader(in),
		out:       out,
		log:       l.With("module", "console"),
	}
}

// Run runs the first-start wizard when needed, then the command loop. It
// returns when the operator leaves or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	first, err := c.accounts.FirstStart(ctx)
	if err != nil {
		return err
	}
	if first {
		acct, err := c.Wizard(ctx)
		if err != nil {
			return fmt.Errorf("first start: %w", err)
		}
		c.operator = acct.Email
	} else if c.operator, err = c.accounts.RootEmail(ctx); err != nil {
		return err
	}

	runREPL(ctx, c, c.reader, c.out)
	return nil
}

// Wizard asks for the root account's email and password and bootstraps it.
func (c *Console) Wizard(ctx context.Context) (*accounts.Account, error) {
	printlnFn(ok("Welcome to RosePanel. Let's create the administrator account."))

	var email string
	for {
		e, err := GetSimpleText(c.reader, "Email address", c.out)
		if err != nil {
			return nil, err
		}
		if !strings.Contains(e, "@") || accounts.Sanitize(e) != e {
			printlnFn(fail("That does not look like an email address."))
			continue
		}
		if Confirm(c.reader, "Use "+e+"?", c.out) {
			email = e
			break
		}
	}

	var password string
	for {
		pw, err := GetPassword("Password", c.out)
		if err != nil {
			return nil, err
		}
		again, err := GetPassword("Repeat password", c.out)
		if err != nil {
			return nil, err
		}
		if pw == "" {
			printlnFn(fail("Password must not be empty."))
			continue
		}
		if pw != again {
			printlnFn(fail("Passwords do not match."))
			continue
		}
		password = pw
		break
	}

	acct, err := c.accounts.Bootstrap(ctx, email, password)
	if err != nil {
		return nil, err
	}
	printlnFn(ok("Administrator " + acct.Email + " created."))
	return acct, nil
}

func (c *Console) ConfirmExit() bool {
	if !c.askToExit {
		return true
	}
	return Confirm(c.reader, hint("Are you sure you want to stop the panel?"), c.out)
}

func (c *Console) ListSessions(ctx context.Context) error {
	list, err := c.sessions.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		printlnFn(dim("No active sessions."))
		return nil
	}
	for _, s := range list {
		printlnFn(fmt.Sprintf("%-12s %-30s expires %s", logging.ShortToken(s.Token), s.Record.BelongsTo,
			s.Record.ExpireOn.Local().Format(time.DateTime)))
	}
	return nil
}

func (c *Console) ListServers(ctx context.Context) error {
	servers, err := c.thorns.List(ctx, "")
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		printlnFn(dim("No servers."))
		return nil
	}
	for _, s := range servers {
		state := dim("stopped")
		if s.Running() {
			state = ok("running pid " + strconv.Itoa(*s.ProcessPID))
		}
		printlnFn(fmt.Sprintf("%-20s %s  %-25s %s", s.Identifier, dim(s.SUID), s.Owner, state))
	}
	return nil
}

func (c *Console) CreateServer(ctx context.Context) error {
	var req thorns.CreateRequest
	var err error

	if req.Identifier, err = GetSimpleText(c.reader, "Server name", c.out); err != nil {
		return err
	}
	if req.Description, err = GetSimpleText(c.reader, "Description", c.out); err != nil {
		return err
	}
	if req.InitCmd, err = GetSimpleText(c.reader, "Start command", c.out); err != nil {
		return err
	}
	if req.InstallCmds, err = GetLines(c.reader, "Install commands, one per line", c.out); err != nil {
		return err
	}
	signal, err := GetSimpleText(c.reader, "Stop signal or console command (empty for SIGINT)", c.out)
	if err != nil {
		return err
	}
	req.KillSignal = models.KillSignal(signal)

	if req.Hostname, err = GetSimpleText(c.reader, "Hostname (empty for "+models.DefaultHostname+")", c.out); err != nil {
		return err
	}

	port, err := GetSimpleText(c.reader, "Port (empty for none)", c.out)
	if err != nil {
		return err
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
		req.Port = &n
	}

	req.Owner = c.operator
	req.Progress = func(s thorns.InstallStep) {
		prefix := fmt.Sprintf("[%d/%d] %s", s.Index+1, s.Total, s.Command)
		switch {
		case !s.Finished:
			printlnFn(dim(prefix + " ..."))
		case s.Err != nil:
			printlnFn(fail(prefix + " failed: " + s.Err.Error()))
		default:
			printlnFn(ok(prefix + " done"))
		}
	}

	res, err := c.thorns.Create(ctx, req)
	if err != nil {
		return err
	}
	switch {
	case !res.Created:
		printlnFn(fail("Server could not be created, see the log."))
	case res.InstallErr != nil:
		printlnFn(hint(fmt.Sprintf("Server %s created, but install step %d failed.", res.SUID, res.FailedAt+1)))
	default:
		printlnFn(ok("Server " + req.Identifier + " created as " + res.SUID + "."))
	}
	return nil
}

func (c *Console) StartServer(ctx context.Context, name string) error {
	h, err := c.thorns.Start(ctx, name, common.BootstrapActor)
	if err != nil {
		return err
	}
	printlnFn(ok(fmt.Sprintf("Server %s started, pid %d.", name, h.PID())))
	return nil
}

func (c *Console) StopServer(ctx context.Context, name string) error {
	if err := c.thorns.Stop(ctx, name, common.BootstrapActor); err != nil {
		return err
	}
	printlnFn(ok("Server " + name + " stopped."))
	return nil
}

func (c *Console) DeleteServer(ctx context.Context, name string) error {
	if !Confirm(c.reader, hint("Delete "+name+" and all of its files?"), c.out) {
		return nil
	}
	if err := c.thorns.Delete(ctx, name, common.BootstrapActor); err != nil {
		return err
	}
	printlnFn(ok("Server " + name + " deleted."))
	return nil
}

// describe turns core errors into console messages.
func describe(err error) string {
	var pe *common.PermissionError
	switch {
	case errors.As(err, &pe):
		return "Missing permission " + pe.Name + "."
	case errors.Is(err, common.ErrServerDoesNotExist):
		return "Server does not exist."
	case errors.Is(err, common.ErrServerExists):
		return "A server with that name already exists."
	case errors.Is(err, common.ErrServerRunning):
		return "Server is already running."
	case errors.Is(err, common.ErrInvalidServerName):
		return "Server names must not start with " + thorns.SUIDPrefix + "."
	case errors.Is(err, common.ErrMissingRequiredFields):
		return "Missing input: " + err.Error()
	}
	return "Error: " + err.Error()
}
