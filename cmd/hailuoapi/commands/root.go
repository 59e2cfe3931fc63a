package commands

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hailuoapi",
	Short: "OpenAI-compatible API server for Hailuo",
	Long: `hailuoapi - an OpenAI-compatible API server backed by Hailuo.

The server translates OpenAI-shaped requests (chat completions, speech
synthesis, audio transcription) onto Hailuo web conversations. There is
no server-side API key: each caller passes their own Hailuo credential
as the bearer token, and the server manages device registration and
request signing per credential.

Examples:
  # Serve on the default address
  hailuoapi serve

  # Serve with a config file and persistent device cache
  hailuoapi serve --config config.yaml
  DEVICE_CACHE_DIR=/var/lib/hailuoapi hailuoapi serve
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
}
