package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/credential"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

// historyFileName is the local history database inside the config
// directory.
const historyFileName = "history.db"

// newClient builds the backend client from config and the stored token.
// A keyring that cannot be opened leaves the client unauthenticated.
func newClient(cfg *model.AppConfig, logger *slog.Logger) *api.Client {
	token, err := credential.Token()
	if err != nil {
		logger.Warn("reading API token", slog.String("error", err.Error()))
	}
	return api.NewClient(cfg.API.BaseURL, token,
		api.WithTimeout(cfg.API.Timeout()),
		api.WithRateLimit(cfg.API.RequestsPerSecond, cfg.API.Burst),
		api.WithMaxRetries(cfg.API.MaxRetries),
		api.WithLogger(logger),
	)
}

// openStore opens the local history database.
func openStore() (*store.SQLiteStore, error) {
	dir := model.ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	st, err := store.NewSQLiteStore(filepath.Join(dir, historyFileName))
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return st, nil
}
