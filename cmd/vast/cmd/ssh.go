package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vastai-client/vastai-go/pkg/sshutil"
	"github.com/vastai-client/vastai-go/pkg/vastai"
)

var (
	sshKeyFile  string
	waitTimeout time.Duration
)

var waitCmd = &cobra.Command{
	Use:   "wait <instance-id>",
	Short: "Wait until an instance accepts SSH sessions",
	Long: `Poll an instance's SSH endpoint until a session succeeds. Useful right
after create, before scripting against the instance:

  vast create 12345 --image pytorch/pytorch --ssh
  vast wait 4330147 --key ~/.ssh/id_rsa`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, err := resolveEndpoint(args[0])
		if err != nil {
			return err
		}

		waiter := sshutil.NewWaiter(sshutil.WithWaitTimeout(waitTimeout))
		result, err := waiter.WaitReady(context.Background(), endpoint)
		if err != nil {
			return err
		}
		fmt.Printf("Instance reachable after %s (%d attempts)\n",
			result.Duration.Round(time.Second), result.Attempts)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <instance-id> <local-path> <remote-path>",
	Short: "Upload a local file to an instance over SFTP",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, err := resolveEndpoint(args[0])
		if err != nil {
			return err
		}
		if err := sshutil.NewTransfer(endpoint).Upload(context.Background(), args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Uploaded %s -> %s:%s\n", args[1], args[0], args[2])
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <instance-id> <remote-path> <local-path>",
	Short: "Download a file from an instance over SFTP",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, err := resolveEndpoint(args[0])
		if err != nil {
			return err
		}
		if err := sshutil.NewTransfer(endpoint).Download(context.Background(), args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Downloaded %s:%s -> %s\n", args[0], args[1], args[2])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)

	for _, c := range []*cobra.Command{waitCmd, uploadCmd, downloadCmd} {
		c.Flags().StringVar(&sshKeyFile, "key", "", "Path to the SSH private key registered with the account (required)")
		_ = c.MarkFlagRequired("key")
	}
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", sshutil.DefaultWaitTimeout, "Give up after this long")
}

// resolveEndpoint fetches the instance and derives its SSH endpoint using
// the --key private key.
func resolveEndpoint(instanceArg string) (sshutil.Endpoint, error) {
	id, err := parseInstanceID(instanceArg)
	if err != nil {
		return sshutil.Endpoint{}, err
	}

	key, err := os.ReadFile(sshKeyFile)
	if err != nil {
		return sshutil.Endpoint{}, fmt.Errorf("read ssh key: %w", err)
	}

	client, err := newClient()
	if err != nil {
		return sshutil.Endpoint{}, err
	}
	var inst *vastai.Instance
	if inst, err = client.ShowInstance(context.Background(), id); err != nil {
		return sshutil.Endpoint{}, err
	}
	return sshutil.EndpointFor(inst, key)
}
