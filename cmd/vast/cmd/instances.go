package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List your instances",
	RunE:  runInstances,
}

var showCmd = &cobra.Command{
	Use:   "show <instance-id>",
	Short: "Show one instance in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(showCmd)
}

func runInstances(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	instances, err := client.ListInstances(context.Background())
	if err != nil {
		return err
	}

	if flagOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(instances)
	}

	if len(instances) == 0 {
		fmt.Println("No instances.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tGPU\tN\t$/HR\tSSH\tAGE\tLABEL")
	for _, inst := range instances {
		ssh := "-"
		if inst.SSHHost != "" && inst.SSHPort != 0 {
			ssh = fmt.Sprintf("%s:%d", inst.SSHHost, inst.SSHPort)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t$%.3f\t%s\t%s\t%s\n",
			inst.ID,
			inst.ActualStatus,
			inst.GPUName,
			inst.NumGPUs,
			inst.DphTotal,
			ssh,
			fmtDuration(inst.StartDate),
			inst.Label,
		)
	}
	w.Flush()
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseInstanceID(args[0])
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	inst, err := client.ShowInstance(context.Background(), id)
	if err != nil {
		return err
	}

	if flagOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(inst)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%d\n", inst.ID)
	fmt.Fprintf(w, "Status\t%s\n", inst.ActualStatus)
	fmt.Fprintf(w, "Label\t%s\n", inst.Label)
	fmt.Fprintf(w, "Image\t%s\n", inst.ImageUUID)
	fmt.Fprintf(w, "GPU\t%dx %s\n", inst.NumGPUs, inst.GPUName)
	fmt.Fprintf(w, "Price\t$%.3f/hr\n", inst.DphTotal)
	if inst.SSHHost != "" {
		fmt.Fprintf(w, "SSH\troot@%s -p %d\n", inst.SSHHost, inst.SSHPort)
	}
	fmt.Fprintf(w, "Age\t%s\n", fmtDuration(inst.StartDate))
	w.Flush()
	return nil
}
