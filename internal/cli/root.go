package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// DefaultAPIURL — адрес API, если не задан флагом или STOREBRIDGE_API_URL.
const DefaultAPIURL = "http://localhost:8080"

// NewRootCmd создаёт корневую команду storebridge.
func NewRootCmd(version string) *cobra.Command {
	var apiURL string
	var jsonOutput bool

	root := &cobra.Command{
		Use:           "storebridge",
		Short:         "storebridge CLI — catalog to marketplace registration jobs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := DefaultAPIURL
	if v, ok := os.LookupEnv("STOREBRIDGE_API_URL"); ok && v != "" {
		defaultURL = v
	}

	root.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *Client { return NewClient(apiURL) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, root.OutOrStdout(), root.ErrOrStderr()) }

	root.AddCommand(
		NewJobCmd(clientFn, outputFn),
		NewItemCmd(clientFn, outputFn),
	)

	return root
}
