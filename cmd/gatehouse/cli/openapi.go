package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/gatehouse/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document for the HTTP API",
		Example: `  gatehouse openapi
  gatehouse openapi --base-url https://admin.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := openapi.Generate(openapi.Options{
				BaseURL: baseURL,
				Version: versionString(),
			})
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal openapi: %w", err)
			}
			if outputFile != "" {
				if err := os.WriteFile(outputFile, data, 0644); err != nil {
					return fmt.Errorf("write %s: %w", outputFile, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outputFile)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to advertise in the document")

	return cmd
}
