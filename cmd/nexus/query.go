package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/intellia-labs/nexus/engine/rag"
	"github.com/intellia-labs/nexus/engine/runtime"
	"github.com/intellia-labs/nexus/pkg/natsutil"
)

var (
	queryRemote  bool
	queryJSON    bool
	querySources bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question about the supply chain",
	Long: `Runs the retrieval-augmented pipeline once and prints the answer.
Graph context is optional: when Neo4j is unreachable the answer is built
from the vector index and statistics alone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryRemote, "remote", false, "ask a running server over NATS")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the full result as JSON")
	queryCmd.Flags().BoolVarP(&querySources, "sources", "s", false, "list the retrieved facts")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	if queryRemote {
		if cfg.NATS.URL == "" {
			return fmt.Errorf("--remote needs NATS_URL")
		}
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("nexus-cli"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()

		res, err := natsutil.Request[rag.QueryRequest, rag.Result](ctx, nc, natsutil.SubjectQuery, rag.QueryRequest{Query: question})
		if err != nil {
			return fmt.Errorf("remote query: %w", err)
		}
		return printResult(cmd.OutOrStdout(), &res, queryJSON, querySources)
	}

	return withRuntime(ctx, runtime.Options{}, func(rt *runtime.Runtime) error {
		res, err := rt.RAG.Run(ctx, question)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res, queryJSON, querySources)
	})
}

func printResult(w io.Writer, res *rag.Result, asJSON, sources bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintln(w, strings.TrimSpace(res.Text))
	if len(res.Degraded) > 0 {
		fmt.Fprintf(w, "\n(answered without: %s)\n", strings.Join(res.Degraded, ", "))
	}
	if sources && len(res.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, h := range res.Sources {
			fmt.Fprintf(w, "  [%d] %s (%.3f)\n", i+1, h.Text, h.Distance)
		}
	}
	return nil
}
