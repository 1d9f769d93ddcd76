package sessions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/dmitrijs2005/rosepanel/internal/logging"
	"github.com/dmitrijs2005/rosepanel/internal/server/config"
	"github.com/dmitrijs2005/rosepanel/internal/server/kvstore"
	"github.com/dmitrijs2005/rosepanel/internal/server/models"
)

const maxPassAttempts = 5

// Reaper periodically removes expired tokens.
type Reaper struct {
	settings *kvstore.File
	fast     time.Duration
	slow     time.Duration
	grace    time.Duration
	now      func() time.Time
	coin     func() bool
	log      logging.Logger

	snapshot map[string]struct{}
}

type ReaperOption func(*Reaper)

func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

// WithCoin replaces the random choice of keeping a changed snapshot.
func WithCoin(coin func() bool) ReaperOption {
	return func(r *Reaper) { r.coin = coin }
}

func NewReaper(settings *kvstore.File, cfg *config.Config, log logging.Logger, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		settings: settings,
		fast:     cfg.ReaperFastInterval,
		slow:     cfg.ReaperSlowInterval,
		grace:    cfg.ShutdownGrace,
		now:      time.Now,
		coin:     func() bool { return rand.IntN(2) == 0 },
		log:      log.With("module", "reaper"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reaps until ctx is cancelled, then makes one last pass bounded by the
// shutdown grace period.
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info(ctx, "reaper started")
	for {
		_, seen, err := r.pass(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error(ctx, "reaper pass failed", "error", err)
		}

		wait := r.interval(seen)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.flush()
			return nil
		case <-timer.C:
		}
	}
}

// interval picks the next sleep: fast while the token set keeps changing.
// A changed snapshot is only retained on a coin flip, so a busy set is not
// mistaken for a quiet one after a single pass.
func (r *Reaper) interval(seen map[string]struct{}) time.Duration {
	if seen == nil || maps.Equal(seen, r.snapshot) {
		return r.slow
	}
	if r.coin() {
		r.snapshot = seen
	}
	return r.fast
}

func (r *Reaper) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), r.grace)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := r.pass(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			r.log.Warn(ctx, "final reaper pass failed", "error", err)
		}
	case <-ctx.Done():
		r.log.Warn(context.Background(), "final reaper pass exceeded grace period, skipping", "grace", r.grace)
	}
	r.log.Info(context.Background(), "reaper stopped")
}

// Pass removes every expired token in one bulk write and returns how many
// were removed.
func (r *Reaper) Pass(ctx context.Context) (int, error) {
	n, _, err := r.pass(ctx)
	return n, err
}

// pass retries when the document changes between load and write.
func (r *Reaper) pass(ctx context.Context) (int, map[string]struct{}, error) {
	for attempt := 1; ; attempt++ {
		n, seen, err := r.sweep(ctx)
		if err == nil {
			if n > 0 {
				r.log.Info(ctx, "expired sessions removed", "count", n)
			}
			return n, seen, nil
		}
		if !errors.Is(err, common.ErrRevisionConflict) || attempt == maxPassAttempts {
			return 0, nil, err
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		r.log.Debug(ctx, "sessions changed during pass, retrying", "attempt", attempt)
	}
}

func (r *Reaper) sweep(ctx context.Context) (int, map[string]struct{}, error) {
	var doc models.Settings
	rev, err := r.settings.LoadAll(ctx, &doc)
	if err != nil {
		return 0, nil, err
	}
	doc.Init()

	now := r.now()
	seen := make(map[string]struct{}, len(doc.Tokens))
	var expired []string
	for tok, t := range doc.Tokens {
		if t == nil || t.Expired(now) {
			expired = append(expired, tok)
			continue
		}
		seen[tok] = struct{}{}
	}
	if len(expired) == 0 {
		return 0, seen, nil
	}

	for _, tok := range expired {
		if t := doc.Tokens[tok]; t != nil {
			if acct, ok := doc.Accounts[t.BelongsTo]; ok && acct.CurrentSession == tok {
				acct.CurrentSession = ""
			}
		}
		delete(doc.Tokens, tok)
	}

	if err := r.settings.Swap(ctx, rev, doc); err != nil {
		return 0, nil, fmt.Errorf("write reaped sessions: %w", err)
	}
	return len(expired), seen, nil
}
