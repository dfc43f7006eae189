package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/mail"
	"github.com/faucetdb/gatehouse/internal/model"
	"github.com/faucetdb/gatehouse/internal/password"
)

// resolveDataDir returns the data directory from --data-dir flag,
// GATEHOUSE_DATA_DIR env var, or ~/.gatehouse as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("GATEHOUSE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gatehouse")
}

// openStore opens (and migrates) the configured account directory.
func openStore(st config.Settings) (*config.Store, error) {
	dialect, err := config.ParseDialect(st.Database.Driver)
	if err != nil {
		return nil, err
	}
	store, err := config.NewStore(dialect, st.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	return store, nil
}

func newHasher() *password.Hasher {
	return password.NewHasher(password.DefaultParams(), 0)
}

// newMailer returns an SMTP mailer when mail is enabled, otherwise a mailer
// that only logs that a message would have been sent.
func newMailer(st config.Settings, logger *slog.Logger) mail.Mailer {
	if !st.Mail.Enabled {
		return mail.NewLogMailer(logger)
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     st.Mail.Host,
		Port:     st.Mail.Port,
		Username: st.Mail.Username,
		Password: st.Mail.Password,
		From:     st.Mail.From,
		TLS:      st.Mail.TLS,
		Timeout:  st.Mail.Timeout,
	})
}

// findAdmin resolves an admin by numeric id, email or username.
func findAdmin(ctx context.Context, store *config.Store, ident string) (*model.AdminUser, error) {
	ident = strings.TrimSpace(ident)
	var (
		admin *model.AdminUser
		err   error
	)
	switch {
	case strings.Contains(ident, "@"):
		admin, err = store.GetAdminByEmail(ctx, ident)
	default:
		admin, err = store.GetAdminByUsername(ctx, ident)
		if errors.Is(err, config.ErrNotFound) {
			if id, perr := strconv.ParseInt(ident, 10, 64); perr == nil {
				admin, err = store.GetAdmin(ctx, id)
			}
		}
	}
	if errors.Is(err, config.ErrNotFound) {
		return nil, fmt.Errorf("admin %q not found", ident)
	}
	return admin, err
}

// promptPassword reads a password twice from the terminal without echo.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt for a password; pass --password")
	}

	fmt.Fprintf(os.Stderr, "%s: ", label)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	confirm, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}

	if string(pw) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	return string(pw), nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
