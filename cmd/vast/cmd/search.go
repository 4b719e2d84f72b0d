package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vastai-client/vastai-go/pkg/query"
	"github.com/vastai-client/vastai-go/pkg/vastai"
)

var (
	searchOrder      string
	searchType       string
	searchNoDefaults bool
	searchNoBundling bool
	searchLimit      int
)

var searchCmd = &cobra.Command{
	Use:   "search [filter expression]",
	Short: "Search rentable GPU offers",
	Long: `Search the marketplace for rentable machine offers.

The filter expression combines field comparisons with implicit AND:

  vast search 'gpu_name=RTX_4090 num_gpus>=2 reliability>0.98'
  vast search 'dph<0.5 inet_down>200' --order dph
  vast search 'gpu_ram>=24 cuda_vers>=12.0' --order 'dlperf-'

Run "vast search fields" for the list of filterable fields.`,
	RunE: runSearch,
}

var searchFieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the filterable search fields",
	Run: func(cmd *cobra.Command, args []string) {
		for _, f := range query.Fields() {
			fmt.Println(f)
		}
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.AddCommand(searchFieldsCmd)

	searchCmd.Flags().StringVar(&searchOrder, "order", "score-", "Sort order, comma-separated fields, '-' suffix for descending")
	searchCmd.Flags().StringVar(&searchType, "type", "on-demand", "Offer type (on-demand, bid, reserved)")
	searchCmd.Flags().BoolVar(&searchNoDefaults, "no-defaults", false, "Drop the implicit verified/rentable constraints")
	searchCmd.Flags().BoolVar(&searchNoBundling, "disable-bundling", false, "Show identical offers individually (heavily rate limited)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Show at most this many offers (0 = all)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	opts := []vastai.SearchOption{vastai.WithOfferType(searchType)}
	if searchNoDefaults {
		opts = append(opts, vastai.WithoutDefaults())
	}
	if searchNoBundling {
		opts = append(opts, vastai.WithBundlingDisabled())
	}

	offers, err := client.SearchOffers(context.Background(), strings.Join(args, " "), searchOrder, opts...)
	if err != nil {
		return err
	}
	if searchLimit > 0 && len(offers) > searchLimit {
		offers = offers[:searchLimit]
	}

	if flagOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(offers)
	}

	if len(offers) == 0 {
		fmt.Println("No offers match.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGPU\tN\tVRAM\tCPU_CORES\tDISK\tNET_DOWN\t$/HR\tRELIABILITY\tLOCATION")
	for _, o := range offers {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.0fGB\t%d\t%.0fGB\t%.0f\t$%.3f\t%.3f\t%s\n",
			o.ID,
			o.GPUName,
			o.NumGPUs,
			o.GPURam/1024,
			o.CPUCores,
			o.DiskSpace,
			o.InetDown,
			o.DphTotal,
			o.Reliability,
			o.Geolocation,
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d offers\n", len(offers))
	return nil
}
