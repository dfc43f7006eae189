package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faucetdb/gatehouse/internal/config"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Generate secrets",
		Long:  "Generate random values for the session signing secret and the operator key.",
	}

	cmd.AddCommand(newKeyGenerateCmd())

	return cmd
}

func newKeyGenerateCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a new random secret",
		Example: `  gatehouse key generate                 # session secret and operator key
  gatehouse key generate --kind operator # operator key only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch kind {
			case "session", "operator":
				secret, err := config.RandomSecret()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, secret)
			case "", "all":
				session, err := config.RandomSecret()
				if err != nil {
					return err
				}
				operator, err := config.RandomSecret()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "GATEHOUSE_AUTH_SESSION_SECRET=%s\n", session)
				fmt.Fprintf(out, "GATEHOUSE_AUTH_OPERATOR_KEY=%s\n", operator)
			default:
				return fmt.Errorf("unknown key kind %q (want session, operator or all)", kind)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "all", "Which secret to generate: session, operator or all")

	return cmd
}
