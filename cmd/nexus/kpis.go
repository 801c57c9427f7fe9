package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/runtime"
)

var kpisJSON bool

var kpisCmd = &cobra.Command{
	Use:   "kpis",
	Short: "Print the headline dashboard numbers from Neo4j",
	Args:  cobra.NoArgs,
	RunE:  runKPIs,
}

func init() {
	kpisCmd.Flags().BoolVar(&kpisJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(kpisCmd)
}

func runKPIs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withRuntime(ctx, runtime.Options{RequireGraph: true}, func(rt *runtime.Runtime) error {
		k, err := rt.Graph.KPIs(ctx)
		if err != nil {
			return err
		}
		return printKPIs(cmd.OutOrStdout(), k, kpisJSON)
	})
}

func printKPIs(w io.Writer, k graph.KPIs, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(k)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total shipments:\t%d\n", k.TotalShipments)
	fmt.Fprintf(tw, "Delayed shipments:\t%d\n", k.DelayedShipments)
	fmt.Fprintf(tw, "Low-stock items:\t%d\n", k.LowStockItems)
	fmt.Fprintf(tw, "Return rate:\t%.1f%%\n", k.ReturnRate)
	return tw.Flush()
}
