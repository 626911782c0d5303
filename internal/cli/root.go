// Package cli wires configuration, credentials and services into the
// mailtriage commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nhle/mail-triage/internal/model"
)

var (
	cfgFile string
	verbose bool

	// appCfg is loaded before any command runs.
	appCfg *model.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "mailtriage",
	Short: "Sync and classify mail from the terminal",
	Long: `mailtriage follows mailbox syncs streamed by the mail backend and
classifies the messages they bring in.

Run without a subcommand to start the terminal UI.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/mailtriage/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(*cobra.Command, []string) error {
	path := cfgFile
	if path == "" {
		path = model.DefaultConfigPath()
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}
	appCfg = cfg
	return nil
}

// accountOr returns flagValue when set, otherwise the configured account.
func accountOr(flagValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return appCfg.Sync.AccountID
}
