package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/classify"
)

var classifyOpts struct {
	account int
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify every unlabeled message of an account",
	Long: fmt.Sprintf(`Fetch the first page of unlabeled messages and classify them in
batches of %d concurrent requests. A failed message does not stop the run.`, classify.BatchSize),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().IntVar(&classifyOpts.account, "account", 0, "account id (default sync.account_id)")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd.ErrOrStderr(), appCfg.Log.Level, verbose)
	accountID := accountOr(classifyOpts.account)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client := newClient(appCfg, logger)
	messages, err := client.ListMessages(cmd.Context(), api.MessageFilter{
		AccountID:           accountID,
		ClassificationLabel: api.UnclassifiedLabel,
		Limit:               api.MaxPageSize,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	scheduler := classify.NewScheduler(client, classify.Config{
		AccountID: accountID,
		OnProgress: func(p classify.Progress) {
			fmt.Fprintf(out, "Classifying %s\n", p)
		},
		Recorder: st,
		Logger:   logger,
	})

	res, err := scheduler.Run(cmd.Context(), messages)
	fmt.Fprintln(out, classify.SummaryText(res))
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  %v\n", f)
	}
	return err
}
