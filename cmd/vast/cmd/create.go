package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vastai-client/vastai-go/pkg/vastai"
)

var (
	createImage       string
	createDisk        float64
	createLabel       string
	createOnStartFile string
	createEnv         []string
	createPorts       []string
	createArgs        []string
	createSSH         bool
	createDirect      bool
	createJupyter     bool
	createJupyterLab  bool
	createBid         float64
)

var createCmd = &cobra.Command{
	Use:   "create <offer-id>",
	Short: "Rent an offer and launch an image on it",
	Long: `Rent the machine behind an offer and launch a docker image on it.

  vast create 12345 --image pytorch/pytorch:latest --disk 40 --ssh
  vast create 12345 --image vastai/tensorflow --jupyter --bid 0.30`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createImage, "image", "", "Docker image to launch (required)")
	createCmd.Flags().Float64Var(&createDisk, "disk", 0, "Disk size in GB (default 10)")
	createCmd.Flags().StringVar(&createLabel, "label", "", "Label shown in instance listings")
	createCmd.Flags().StringVar(&createOnStartFile, "onstart", "", "Path to a script run on instance start")
	createCmd.Flags().StringArrayVar(&createEnv, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	createCmd.Flags().StringArrayVar(&createPorts, "port", nil, "Port mapping, e.g. 8080:8080 (repeatable)")
	createCmd.Flags().StringArrayVar(&createArgs, "args", nil, "Container entrypoint arguments")
	createCmd.Flags().BoolVar(&createSSH, "ssh", false, "Launch an ssh instance")
	createCmd.Flags().BoolVar(&createDirect, "direct", false, "Request a direct (non-proxied) connection")
	createCmd.Flags().BoolVar(&createJupyter, "jupyter", false, "Launch a jupyter instance")
	createCmd.Flags().BoolVar(&createJupyterLab, "jupyter-lab", false, "Use jupyter lab instead of the notebook UI")
	createCmd.Flags().Float64Var(&createBid, "bid", 0, "Bid price in $/hr for an interruptible instance")

	_ = createCmd.MarkFlagRequired("image")
}

func runCreate(cmd *cobra.Command, args []string) error {
	var offerID int
	if _, err := fmt.Sscanf(args[0], "%d", &offerID); err != nil || offerID <= 0 {
		return fmt.Errorf("invalid offer id %q", args[0])
	}

	env, err := parseEnvFlags(createEnv)
	if err != nil {
		return err
	}

	opts := vastai.LaunchOptions{
		Image:        createImage,
		DiskGB:       createDisk,
		Label:        createLabel,
		Env:          env,
		PortMappings: createPorts,
		Args:         createArgs,
		SSH:          createSSH,
		Direct:       createDirect,
		Jupyter:      createJupyter,
		JupyterLab:   createJupyterLab,
		Bid:          createBid,
	}
	if createOnStartFile != "" {
		script, err := os.ReadFile(createOnStartFile)
		if err != nil {
			return fmt.Errorf("read onstart script: %w", err)
		}
		opts.OnStart = string(script)
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	inst, err := client.CreateInstance(context.Background(), offerID, opts)
	if err != nil {
		return err
	}

	if flagOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(inst)
	}

	fmt.Printf("Created instance %d (%s). Check progress with: vast show %d\n",
		inst.ID, inst.ActualStatus, inst.ID)
	return nil
}

// parseEnvFlags splits repeated KEY=VALUE flags into a map.
func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
