package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/gatehouse/internal/config"
)

var (
	cfgFile    string
	dataDir    string
	appVersion string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Admin identity and access control for operator dashboards",
		Long: `Gatehouse: sign-in, lockout, password resets and invite-only onboarding for
the administrators of an operator dashboard.

Admins authenticate with a password and receive a signed session cookie.
Automation authenticates with a static operator key. New admins join
through single-use invite links; forgotten passwords are recovered through
single-use reset links.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gatehouse.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite directory (default: ~/.gatehouse)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newInviteCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// newViper returns a viper instance with defaults registered, the config
// file read (if any) and GATEHOUSE_* environment overrides enabled.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	config.SetDefaults(v, resolveDataDir())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("gatehouse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gatehouse")
	}

	v.SetEnvPrefix("GATEHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// The default config file is optional; an explicit one is not.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// loadSettings builds the process settings from flags, file and environment.
func loadSettings() (config.Settings, *viper.Viper, error) {
	v, err := newViper()
	if err != nil {
		return config.Settings{}, nil, err
	}
	st, err := config.LoadSettings(v)
	if err != nil {
		return config.Settings{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return st, v, nil
}

// newLogger builds the process logger: text in development, JSON in
// production unless log.format says otherwise.
func newLogger(st config.Settings, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(st.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	format := strings.ToLower(st.Log.Format)
	if format == "" {
		format = "text"
		if st.IsProduction() {
			format = "json"
		}
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func stderrLogger(st config.Settings) *slog.Logger {
	return newLogger(st, os.Stderr)
}
