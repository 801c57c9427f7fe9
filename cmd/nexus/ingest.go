package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/intellia-labs/nexus/engine/ingest"
	"github.com/intellia-labs/nexus/engine/runtime"
	"github.com/intellia-labs/nexus/pkg/natsutil"
)

var (
	ingestDataDir string
	ingestRemote  bool
	ingestJSON    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the data directory into Neo4j and rebuild the vector index",
	Long: `Reads the four CSV tables, reloads the graph, embeds one fact per row,
persists the index snapshot and, when configured, mirrors the facts to
Qdrant and announces the rebuild on NATS.

With --remote the run is requested from a running server over NATS instead.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestDataDir, "data-dir", "d", "", "data directory (default from config)")
	ingestCmd.Flags().BoolVar(&ingestRemote, "remote", false, "ask a server to ingest over NATS")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dir := ingestDataDir
	if dir == "" {
		dir = cfg.DataDir
	}

	if ingestRemote {
		if cfg.NATS.URL == "" {
			return fmt.Errorf("--remote needs NATS_URL")
		}
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("nexus-cli"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()

		report, err := natsutil.Request[ingest.Request, ingest.Report](ctx, nc, natsutil.SubjectIngest, ingest.Request{DataDir: ingestDataDir})
		if err != nil {
			return fmt.Errorf("remote ingest: %w", err)
		}
		return printReport(cmd.OutOrStdout(), report, ingestJSON)
	}

	cfg.DataDir = dir
	return withRuntime(ctx, runtime.Options{RequireGraph: true}, func(rt *runtime.Runtime) error {
		pipeline, err := rt.IngestPipeline()
		if err != nil {
			return err
		}
		report, err := pipeline(ctx, dir).Unwrap()
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), report, ingestJSON)
	})
}

func printReport(w io.Writer, r ingest.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Data dir:\t%s\n", r.DataDir)
	tables := make([]string, 0, len(r.Rows))
	for t := range r.Rows {
		tables = append(tables, t)
	}
	slices.Sort(tables)
	for _, t := range tables {
		fmt.Fprintf(tw, "  %s rows:\t%d\n", t, r.Rows[t])
	}
	fmt.Fprintf(tw, "Facts:\t%d\n", r.Facts)
	fmt.Fprintf(tw, "Dimension:\t%d\n", r.Dim)
	if r.Snapshot != "" {
		fmt.Fprintf(tw, "Snapshot:\t%s\n", r.Snapshot)
	}
	fmt.Fprintf(tw, "Mirrored:\t%t\n", r.Mirrored)
	fmt.Fprintf(tw, "Duration:\t%s\n", r.Duration.Round(time.Millisecond))
	return tw.Flush()
}
