package cli

import (
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/mail-triage/internal/app"
	"github.com/nhle/mail-triage/internal/classify"
	appsync "github.com/nhle/mail-triage/internal/sync"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive terminal UI",
	Long: `Launch the interactive terminal UI for the configured account and folder.

Controls:
  s        - Sync
  S        - Sync and classify new messages
  c        - Classify every unlabeled message in the list
  x        - Dismiss the sync panel
  /        - Filter by sender or subject
  r        - Refresh
  ?        - Toggle help
  q        - Quit`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	logFile, err := openLogFile()
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := newLogger(logFile, appCfg.Log.Level, verbose)

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
	// The UI reloads the list on every ProgressMsg, so no Refresh here.
	scheduler := classify.NewScheduler(client, classify.Config{
		AccountID: appCfg.Sync.AccountID,
		Recorder:  st,
		Logger:    logger,
	})

	if appCfg.Sync.Interval > 0 {
		poller := appsync.NewPoller(tracker, client, appsync.PollConfig{
			Interval: appCfg.Sync.Interval,
			Folder:   appCfg.Sync.Folder,
			Logger:   logger,
		})
		poller.Start(cmd.Context())
		defer poller.Stop()
	}

	m := app.New(cmd.Context(), client, tracker, scheduler, st, app.Options{
		AccountID: appCfg.Sync.AccountID,
		Folder:    appCfg.Sync.Folder,
		PageSize:  appCfg.Display.PageSize,
	})

	logger.Info("starting tui",
		slog.Int("account_id", appCfg.Sync.AccountID),
		slog.String("base_url", client.BaseURL()),
	)
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run(); err != nil {
		return fmt.Errorf("running tui: %w", err)
	}
	return nil
}
