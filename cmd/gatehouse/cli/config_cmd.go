package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage gatehouse configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default gatehouse.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVarP(&path, "output", "o", "gatehouse.yaml", "Path of the file to write")

	return cmd
}

const defaultConfig = `# Gatehouse configuration
# Every key can be overridden with a GATEHOUSE_* environment variable,
# e.g. GATEHOUSE_AUTH_SESSION_SECRET or GATEHOUSE_SERVER_PORT.

# development or production. Production requires auth.session_secret,
# marks the session cookie Secure and never returns raw tokens.
env: development

server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
  cors_origins: []          # browser origins allowed to call the API
  rate_limit_per_minute: 20 # per client and route, on sign-in, reset and invite endpoints

# Account directory
database:
  driver: sqlite            # sqlite, postgres or mysql
  # dsn: postgres://gatehouse@localhost/gatehouse   # default: <data-dir>/gatehouse.db

auth:
  session_secret: ""        # at least 32 bytes; 'gatehouse key generate'
  session_ttl_hours: 12
  remember_ttl_days: 30
  reset_ttl_minutes: 30
  invite_ttl_minutes: 4320
  operator_key: ""          # empty disables key access
  cookie_name: gatehouse_session

# Invite and reset links are delivered best effort.
mail:
  enabled: false
  host: ""
  port: 587
  username: ""
  password: ""
  from: ""
  tls: starttls             # starttls, implicit (port 465) or none (local relay)
  timeout: 15s
  base_url: http://localhost:8080

log:
  level: info               # debug, info, warn, error
  format: ""                # text or json; default depends on env
`

func runConfigInit(out io.Writer, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintln(out, "Set auth.session_secret (see 'gatehouse key generate'), then run 'gatehouse serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}

	return cmd
}

func runConfigShow(out io.Writer) error {
	st, v, err := loadSettings()
	if err != nil {
		return err
	}

	if configFile := v.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(out, "# Config file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "# Config file: (none found, using defaults and environment)")
	}
	if st.GeneratedSecret {
		fmt.Fprintln(out, "# auth.session_secret is not set; an ephemeral one would be generated")
	}

	data, err := st.Masked().YAML()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
