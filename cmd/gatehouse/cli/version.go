package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/faucetdb/gatehouse/internal/password"
	"github.com/faucetdb/gatehouse/internal/session"
)

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version":        version,
				"commit":         commit,
				"built":          date,
				"go_version":     runtime.Version(),
				"os":             runtime.GOOS,
				"arch":           runtime.GOARCH,
				"password_hash":  password.CurrentAlgorithm + " v" + strconv.Itoa(password.CurrentVersion),
				"session_schema": strconv.Itoa(session.SchemaVersion),
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gatehouse %s\n", version)
			fmt.Fprintf(out, "  commit:   %s\n", commit)
			fmt.Fprintf(out, "  built:    %s\n", date)
			fmt.Fprintf(out, "  go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "  os/arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  hashing:  %s\n", info["password_hash"])
			fmt.Fprintf(out, "  sessions: schema %s\n", info["session_schema"])
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	return cmd
}
