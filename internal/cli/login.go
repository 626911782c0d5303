package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mail-triage/internal/credential"
)

var loginOpts struct {
	username      string
	passwordStdin bool
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the mail backend",
	Long: `Exchange a username and password for an API token and store the
token in the system keyring.

Without flags a form asks for both. With --username and --password-stdin
the password is read from the first line of standard input.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := credential.Delete(credential.KeyAPIToken); err != nil {
			return err
		}
		cmd.Println("Logged out.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginOpts.username, "username", "u", "", "backend username")
	loginCmd.Flags().BoolVar(&loginOpts.passwordStdin, "password-stdin", false, "read the password from standard input")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	username, password := loginOpts.username, ""

	var err error
	if loginOpts.passwordStdin {
		if username == "" {
			return errors.New("--password-stdin requires --username")
		}
		password, err = readPassword(cmd.InOrStdin())
	} else {
		username, password, err = promptCredentials(username)
	}
	if errors.Is(err, huh.ErrUserAborted) {
		return nil
	}
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), appCfg.Log.Level, verbose)
	client := newClient(appCfg, logger)

	token, err := client.Login(cmd.Context(), username, password)
	if err != nil {
		return err
	}
	if err := credential.Set(credential.KeyAPIToken, token); err != nil {
		return err
	}

	cmd.Printf("Logged in as %s.\n", username)
	return nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password on standard input")
	}
	return password, nil
}

func promptCredentials(username string) (string, string, error) {
	var password string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(validateRequired("Password")),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(username), password, nil
}

// validateRequired returns a validator that rejects blank input.
func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
