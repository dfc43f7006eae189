package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply directory schema migrations and exit",
		Long:  "Open the configured account directory, apply any pending migrations and exit. 'serve' does this on startup too.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(st)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Directory schema is up to date (%s)\n", store.Dialect())
			return nil
		},
	}
}
