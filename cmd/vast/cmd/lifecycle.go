package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy <instance-id>",
	Short: "Destroy an instance and delete its data",
	Args:  cobra.ExactArgs(1),
	RunE: instanceAction("Destroyed", func(ctx context.Context, id int) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		return client.DestroyInstance(ctx, id)
	}),
}

var startCmd = &cobra.Command{
	Use:   "start <instance-id>",
	Short: "Start a stopped instance",
	Args:  cobra.ExactArgs(1),
	RunE: instanceAction("Started", func(ctx context.Context, id int) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		return client.StartInstance(ctx, id)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop <instance-id>",
	Short: "Stop a running instance (data is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: instanceAction("Stopped", func(ctx context.Context, id int) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		return client.StopInstance(ctx, id)
	}),
}

var rebootCmd = &cobra.Command{
	Use:   "reboot <instance-id>",
	Short: "Stop and restart an instance",
	Args:  cobra.ExactArgs(1),
	RunE: instanceAction("Rebooted", func(ctx context.Context, id int) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		return client.RebootInstance(ctx, id)
	}),
}

var labelCmd = &cobra.Command{
	Use:   "label <instance-id> <label>",
	Short: "Set the label of an instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.LabelInstance(context.Background(), id, args[1]); err != nil {
			return err
		}
		fmt.Printf("Labeled instance %d %q\n", id, args[1])
		return nil
	},
}

var changeBidCmd = &cobra.Command{
	Use:   "change-bid <instance-id> <price>",
	Short: "Change the bid price of an interruptible instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		price, err := strconv.ParseFloat(args[1], 64)
		if err != nil || price <= 0 {
			return fmt.Errorf("invalid bid price %q", args[1])
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.ChangeBid(context.Background(), id, price); err != nil {
			return err
		}
		fmt.Printf("Changed bid on instance %d to $%.3f/hr\n", id, price)
		return nil
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <instance-id> <command>",
	Short: "Run a constrained remote command on an instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Execute(context.Background(), id, args[1]); err != nil {
			return err
		}
		fmt.Printf("Queued command on instance %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(changeBidCmd)
	rootCmd.AddCommand(executeCmd)
}

// instanceAction wraps the single-id lifecycle commands, which differ only
// in the client call they make.
func instanceAction(verb string, action func(ctx context.Context, id int) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		if err := action(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("%s instance %d\n", verb, id)
		return nil
	}
}
