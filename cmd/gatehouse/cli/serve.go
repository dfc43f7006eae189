package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faucetdb/gatehouse/internal/server"
)

const banner = `
  __ _  __ _| |_ ___| |__   ___  _   _ ___  ___
 / _' |/ _' | __/ _ \ '_ \ / _ \| | | / __|/ _ \
| (_| | (_| | ||  __/ | | | (_) | |_| \__ \  __/
 \__, |\__,_|\__\___|_| |_|\___/ \__,_|___/\___|
 |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gatehouse API server",
		Long:  "Start the HTTP server exposing sign-in, password reset, invite and admin management endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, host, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port (overrides server.port)")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host (overrides server.host)")

	return cmd
}

func runServe(cmd *cobra.Command, host string, port int) error {
	st, _, err := loadSettings()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		st.Server.Port = port
	}
	if cmd.Flags().Changed("host") {
		st.Server.Host = host
	}

	logger := stderrLogger(st)
	if st.GeneratedSecret {
		logger.Warn("no auth.session_secret configured; using an ephemeral secret, sessions will not survive a restart")
	}
	if st.Auth.OperatorKey == "" {
		logger.Info("operator key disabled; set auth.operator_key to enable key access")
	}

	store, err := openStore(st)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("directory opened", "driver", st.Database.Driver)

	hasAdmin, err := store.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: gatehouse admin create")
	}

	svc := server.NewServices(store, st, newHasher(), newMailer(st, logger), logger)
	srv := server.New(server.ConfigFromSettings(st, versionString()), svc, logger)

	out := cmd.OutOrStdout()
	fmt.Fprint(out, banner)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "→ Gatehouse %s (%s)\n", versionString(), st.Env)
	fmt.Fprintf(out, "→ Listening on http://%s:%d\n", st.Server.Host, st.Server.Port)
	fmt.Fprintf(out, "→ OpenAPI:    http://%s:%d/openapi.json\n", st.Server.Host, st.Server.Port)
	fmt.Fprintf(out, "→ Health:     http://%s:%d/healthz\n", st.Server.Host, st.Server.Port)
	fmt.Fprintln(out)

	return srv.ListenAndServe()
}
