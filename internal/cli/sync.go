package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/progress"
	appsync "github.com/nhle/mail-triage/internal/sync"
	"github.com/nhle/mail-triage/internal/ui/syncpanel"
)

var syncOpts struct {
	account      int
	folder       string
	autoClassify bool
	all          bool
	watch        bool
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync an account and follow its progress",
	Long: `Ask the backend to sync an account and follow the streamed progress of
its download and classification phases.

With --all, sync every active account one after another. With --watch,
repeat that every sync.interval until interrupted.

Exits non-zero when the backend reports an error or the stream is lost.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVar(&syncOpts.account, "account", 0, "account id (default sync.account_id)")
	syncCmd.Flags().StringVar(&syncOpts.folder, "folder", "", "folder to sync (default sync.folder)")
	syncCmd.Flags().BoolVar(&syncOpts.autoClassify, "auto-classify", false, "classify new messages after downloading")
	syncCmd.Flags().BoolVar(&syncOpts.all, "all", false, "sync every active account")
	syncCmd.Flags().BoolVar(&syncOpts.watch, "watch", false, "with --all, repeat every sync.interval")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd.ErrOrStderr(), appCfg.Log.Level, verbose)
	if syncOpts.all || syncOpts.watch {
		return runSyncAll(cmd, logger)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	req := api.SyncRequest{
		AccountID:    accountOr(syncOpts.account),
		Folder:       syncOpts.folder,
		AutoClassify: syncOpts.autoClassify || appCfg.Sync.AutoClassify,
	}
	if req.Folder == "" {
		req.Folder = appCfg.Sync.Folder
	}

	tracker := appsync.NewTracker(newClient(appCfg, logger), appsync.Config{
		KeepProgressOnDisconnect: appCfg.Sync.KeepProgressOnDisconnect,
		Recorder:                 st,
		Logger:                   logger,
	})

	out := cmd.OutOrStdout()
	r := newSyncRenderer(out)
	var summary string
	tracker.SetListener(func(msg tea.Msg) {
		switch msg := msg.(type) {
		case appsync.SessionMsg:
			if msg.Present {
				r.Render(msg.Session)
			}
		case appsync.NotificationMsg:
			summary = msg.Notification.Message
		}
	})

	_, err = tracker.Run(cmd.Context(), req)
	r.Close()
	if err != nil {
		return fmt.Errorf("syncing account %d: %w", req.AccountID, err)
	}
	fmt.Fprintln(out, summary)
	return nil
}

// runSyncAll walks every active account once, or on sync.interval with
// --watch.
func runSyncAll(cmd *cobra.Command, logger *slog.Logger) error {
	if syncOpts.watch && appCfg.Sync.Interval <= 0 {
		return errors.New("--watch needs a positive sync.interval")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client := newClient(appCfg, logger)
	tracker := appsync.NewTracker(client, appsync.Config{
		KeepProgressOnDisconnect: appCfg.Sync.KeepProgressOnDisconnect,
		Recorder:                 st,
		Logger:                   logger,
	})

	folder := syncOpts.folder
	if folder == "" {
		folder = appCfg.Sync.Folder
	}

	out := cmd.OutOrStdout()
	failed := 0
	poller := appsync.NewPoller(tracker, client, appsync.PollConfig{
		Interval: appCfg.Sync.Interval,
		Folder:   folder,
		OnResult: func(r appsync.AccountResult) {
			if r.Err != nil {
				failed++
			}
			fmt.Fprintln(out, accountResultText(r))
		},
		Logger: logger,
	})

	if syncOpts.watch {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		poller.Start(ctx)
		<-ctx.Done()
		poller.Stop()
		return nil
	}

	if _, err := poller.PollOnce(cmd.Context()); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d accounts failed to sync", failed)
	}
	return nil
}

func accountResultText(r appsync.AccountResult) string {
	name := r.Account.EmailAddress
	if name == "" {
		name = fmt.Sprintf("account %d", r.Account.ID)
	}
	switch {
	case r.Skipped:
		return name + ": skipped, a sync is already running"
	case r.Err != nil:
		return fmt.Sprintf("%s: %v", name, r.Err)
	}
	return fmt.Sprintf("%s: %d new, %d classified", name, r.Session.Download.Total, r.Session.Classify.Total)
}

// syncRenderer draws session snapshots as they arrive.
type syncRenderer interface {
	Render(s progress.Session)
	Close()
}

// newSyncRenderer draws progress bars on a terminal and plain lines
// otherwise.
func newSyncRenderer(w io.Writer) syncRenderer {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return &barRenderer{w: w}
	}
	return &lineRenderer{w: w}
}

// lineRenderer prints a phase whenever its status, message or count
// changes.
type lineRenderer struct {
	w    io.Writer
	last [2]string
}

func (r *lineRenderer) Render(s progress.Session) {
	r.line(0, "download", s.Download)
	r.line(1, "classify", s.Classify)
}

func (r *lineRenderer) line(i int, name string, p progress.Phase) {
	text := fmt.Sprintf("%-8s  %-8s  %s", name, p.Status, p.Message)
	if count := syncpanel.Count(p); count != "" {
		text += " (" + count + ")"
	}
	if text == r.last[i] {
		return
	}
	r.last[i] = text
	fmt.Fprintln(r.w, text)
}

func (r *lineRenderer) Close() {}

// barRenderer shows one bar for the phase in progress: download first,
// then classify once it has a total.
type barRenderer struct {
	w     io.Writer
	phase string
	total int
	bar   *progressbar.ProgressBar
}

func (r *barRenderer) Render(s progress.Session) {
	name, p := "Download", s.Download
	if s.Classify.Total > 0 {
		name, p = "Classify", s.Classify
	}
	current, total := p.Display()

	if r.bar == nil || r.phase != name {
		r.Close()
		r.phase = name
		r.total = total
		r.bar = r.newBar(total)
	} else if total != r.total {
		r.total = total
		r.bar.ChangeMax(barMax(total))
	}

	r.bar.Describe(fmt.Sprintf("%-8s %s", name, p.Message))
	_ = r.bar.Set(current)
}

func (r *barRenderer) newBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(barMax(total),
		progressbar.OptionSetWriter(r.w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(r.w) }),
	)
}

// barMax maps an unknown total to a spinner.
func barMax(total int) int {
	if total <= 0 {
		return -1
	}
	return total
}

func (r *barRenderer) Close() {
	if r.bar == nil {
		return
	}
	_ = r.bar.Finish()
	r.bar = nil
}
