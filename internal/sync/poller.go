package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/progress"
)

// AccountLister lists the accounts a Poller walks.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]api.Account, error)
}

// PollConfig controls a Poller.
type PollConfig struct {
	// Interval between rounds. A non-positive interval disables Start.
	Interval time.Duration

	// Folder synced on every account; empty lets the backend choose.
	Folder string

	// OnResult is called synchronously after each account of a round.
	OnResult func(AccountResult)

	Logger *slog.Logger
}

// AccountResult is the outcome of one account within a round. Skipped is
// set when the account already had a sync running.
type AccountResult struct {
	Account api.Account
	Session progress.Session
	Skipped bool
	Err     error
}

// Poller syncs every active account one after another, either once
// through PollOnce or on a fixed interval through Start.
type Poller struct {
	tracker  *Tracker
	accounts AccountLister
	cfg      PollConfig
	logger   *slog.Logger

	mu      gosync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller creates a Poller that runs its syncs through t.
func NewPoller(t *Tracker, accounts AccountLister, cfg PollConfig) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		tracker:  t,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "poller")),
	}
}

// PollOnce syncs every active account sequentially. A failing account
// never stops the round; only listing the accounts can fail it.
func (p *Poller) PollOnce(ctx context.Context) ([]AccountResult, error) {
	accounts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("polling accounts: %w", err)
	}

	var results []AccountResult
	for _, acct := range accounts {
		if !acct.IsActive {
			continue
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		s, err := p.tracker.Run(ctx, api.SyncRequest{
			AccountID:    acct.ID,
			Folder:       p.cfg.Folder,
			AutoClassify: acct.AutoClassify,
		})
		res := AccountResult{Account: acct, Session: s, Err: err}

		switch {
		case errors.Is(err, ErrSyncInProgress):
			res.Skipped, res.Err = true, nil
			p.logger.Debug("skipping account with a running sync", slog.Int("account_id", acct.ID))
		case err != nil:
			p.logger.Warn("background sync failed",
				slog.Int("account_id", acct.ID),
				slog.String("error", err.Error()),
			)
		}

		results = append(results, res)
		if p.cfg.OnResult != nil {
			p.cfg.OnResult(res)
		}
	}
	return results, nil
}

// Start polls immediately and then on every interval until ctx ends or
// Stop is called. It is a no-op when already running or when the
// interval is not positive.
func (p *Poller) Start(ctx context.Context) {
	if p.cfg.Interval <= 0 {
		return
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.loop(ctx, stopCh, doneCh)
}

// Stop halts the polling loop and waits for a round in progress to end.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
}

func (p *Poller) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.round(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.round(ctx)
		}
	}
}

func (p *Poller) round(ctx context.Context) {
	started := time.Now()
	results, err := p.PollOnce(ctx)
	if err != nil {
		p.logger.Warn("poll round failed", slog.String("error", err.Error()))
		return
	}
	p.logger.Info("poll round finished",
		slog.Int("accounts", len(results)),
		slog.Duration("took", time.Since(started)),
	)
}
