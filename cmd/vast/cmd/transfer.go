package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sshURLCmd = &cobra.Command{
	Use:   "ssh-url <instance-id>",
	Short: "Print the ssh:// URL of an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectionURL("ssh"),
}

var scpURLCmd = &cobra.Command{
	Use:   "scp-url <instance-id>",
	Short: "Print the scp:// URL of an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectionURL("scp"),
}

var copyCmd = &cobra.Command{
	Use:   "copy <src> <dst>",
	Short: "Copy files between two instances",
	Long: `Start a marketplace-side rsync between two instance paths. Both sides
use the instance_id:path locator form:

  vast copy 4330147:/workspace/checkpoints 4330148:/workspace/checkpoints`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.CopyRemote(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Started copy %s -> %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sshURLCmd)
	rootCmd.AddCommand(scpURLCmd)
	rootCmd.AddCommand(copyCmd)
}

func runConnectionURL(scheme string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}

		var url string
		switch scheme {
		case "scp":
			url, err = client.SCPURL(context.Background(), id)
		default:
			url, err = client.SSHURL(context.Background(), id)
		}
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	}
}
