package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vastai-client/vastai-go/internal/config"
	"github.com/vastai-client/vastai-go/internal/logging"
	"github.com/vastai-client/vastai-go/pkg/vastai"
)

var (
	flagAPIKey  string
	flagBaseURL string
	flagOutput  string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vast",
	Short: "vast - rent GPU machines on the Vast.ai marketplace",
	Long: `vast is a command line client for the Vast.ai GPU rental marketplace.

It lets you:
- Search rentable GPU offers with a filter expression
- Create, stop, start, reboot and destroy instances
- Inspect running instances and their SSH endpoints
- Copy files between instances

The API key is read from --api-key, VASTAI_API_KEY, or ~/.vast_api_key.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load("")
		if err != nil {
			return err
		}
		if flagAPIKey != "" {
			cfg.APIKey = flagAPIKey
		}
		if flagBaseURL != "" {
			cfg.BaseURL = flagBaseURL
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logging.Setup(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "Vast.ai API key (overrides VASTAI_API_KEY and the key file)")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "Marketplace API endpoint (for testing)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format (table, json)")
}

// newClient builds the marketplace client from the resolved configuration.
func newClient() (*vastai.Client, error) {
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}
	return vastai.NewClient(key,
		vastai.WithBaseURL(cfg.BaseURL),
		vastai.WithMinInterval(cfg.MinInterval),
	), nil
}

// parseInstanceID parses the positional instance id argument.
func parseInstanceID(arg string) (int, error) {
	var id int
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid instance id %q", arg)
	}
	return id, nil
}

// fmtDuration renders a start date as a rough age, for table output.
func fmtDuration(startUnix float64) string {
	if startUnix <= 0 {
		return "-"
	}
	d := time.Since(time.Unix(int64(startUnix), 0))
	switch {
	case d > 48*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	case d > time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}
