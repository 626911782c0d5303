package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mail-triage/internal/credential"
	"github.com/nhle/mail-triage/internal/relay"
)

var relayOpts struct {
	listen string
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve the sync stream straight from an IMAP mailbox",
	Long: `Run a local stand-in for the mail backend that serves one account
from the IMAP server configured under relay.

Classification applies the sender whitelist and the internal-recipients
rule only. The IMAP password is read from the keyring and asked for on
first use.`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayOpts.listen, "listen", "", "listen address (default relay.listen)")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	rc := appCfg.Relay
	if rc.IMAPHost == "" || rc.Username == "" {
		return errors.New("relay.imap_host and relay.username must be configured")
	}

	password, err := relayPassword(rc.Username)
	if err != nil {
		return err
	}

	addr := relayOpts.listen
	if addr == "" {
		addr = rc.Listen
	}

	logger := newLogger(cmd.ErrOrStderr(), appCfg.Log.Level, verbose)
	srv := relay.NewServer(
		relay.NewIMAPMailbox(rc.Address(), rc.Username, password, rc.TLS),
		relay.Config{
			AccountID: rc.AccountID,
			Rules: relay.Rules{
				WhitelistDomains: rc.WhitelistDomains,
				InternalDomain:   rc.InternalDomain,
			},
			Logger: logger,
		},
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, addr)
}

// relayPassword returns the stored IMAP password, asking for it and
// storing it when missing.
func relayPassword(username string) (string, error) {
	password, err := credential.Get(credential.KeyRelayIMAPPassword)
	if err == nil {
		return password, nil
	}
	if !errors.Is(err, credential.ErrNotFound) {
		return "", err
	}

	err = huh.NewInput().
		Title("IMAP password for " + username).
		EchoMode(huh.EchoModePassword).
		Value(&password).
		Validate(validateRequired("Password")).
		Run()
	if err != nil {
		return "", err
	}
	if err := credential.Set(credential.KeyRelayIMAPPassword, password); err != nil {
		return "", err
	}
	return password, nil
}
