package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

var historyOpts struct {
	limit  int
	remote bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent syncs and classification runs",
	Long: `Show the sync and classification runs recorded on this machine.

With --remote, show the backend's sync audit log instead.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "n", 10, "number of runs to show")
	historyCmd.Flags().BoolVar(&historyOpts.remote, "remote", false, "show the backend's audit log")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	if historyOpts.remote {
		logger := newLogger(cmd.ErrOrStderr(), appCfg.Log.Level, verbose)
		audits, err := newClient(appCfg, logger).RecentSyncs(cmd.Context())
		if err != nil {
			return err
		}
		printAudits(out, audits)
		return nil
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	filter := store.RunFilter{Limit: historyOpts.limit}
	syncs, err := st.RecentSyncRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}
	classifies, err := st.RecentClassifyRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}

	printSyncRuns(out, syncs)
	fmt.Fprintln(out)
	printClassifyRuns(out, classifies)
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}

func printSyncRuns(w io.Writer, runs []model.SyncRun) {
	fmt.Fprintln(w, "Syncs")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  none yet")
		return
	}
	t := newTable("When", "Account", "Folder", "Status", "New", "Classified", "Took", "Error")
	for _, r := range runs {
		t.Row(
			humanize.Time(r.StartedAt),
			strconv.Itoa(r.AccountID),
			r.Folder,
			string(r.Status),
			strconv.Itoa(r.NewMessages),
			strconv.Itoa(r.ClassifiedCount),
			r.Duration().Round(time.Millisecond).String(),
			r.Error,
		)
	}
	fmt.Fprintln(w, t.Render())
}

func printClassifyRuns(w io.Writer, runs []model.ClassifyRun) {
	fmt.Fprintln(w, "Classifications")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  none yet")
		return
	}
	t := newTable("When", "Account", "Total", "Classified", "Failed")
	for _, r := range runs {
		t.Row(
			humanize.Time(r.StartedAt),
			strconv.Itoa(r.AccountID),
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Classified),
			strconv.Itoa(r.Failed),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func printAudits(w io.Writer, audits []api.SyncAudit) {
	if len(audits) == 0 {
		fmt.Fprintln(w, "No syncs recorded by the server.")
		return
	}
	t := newTable("When", "Status", "Details")
	for _, a := range audits {
		details := a.Error
		if details == "" {
			details = formatPayload(a.Payload)
		}
		t.Row(humanize.Time(a.Timestamp.Time), a.Status, details)
	}
	fmt.Fprintln(w, t.Render())
}

// formatPayload renders an audit payload as sorted key=value pairs.
func formatPayload(p map[string]any) string {
	pairs := make([]string, 0, len(p))
	for _, k := range slices.Sorted(maps.Keys(p)) {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(pairs, " ")
}
