package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intellia-labs/nexus/engine/runtime"
	"github.com/intellia-labs/nexus/pkg/config"
)

var (
	configFile string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Supply-chain analytics over a graph, a vector index and an LLM",
	Long: `nexus answers natural-language questions about inventory, suppliers,
logistics and returns by combining Neo4j graph context, a vector index of
row facts and per-table statistics into one prompt.

Settings come from --config (YAML) and environment variables such as
NEO4J_URL, OLLAMA_URL, OPENAI_API_KEY and DATA_DIR.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// loadConfig runs before every command. Logs go to stderr so stdout stays
// clean for results and the MCP stdio transport.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	level, err := c.LogLevel()
	if err != nil {
		return err
	}
	cfg = c
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// withRuntime opens the runtime, runs f and closes it.
func withRuntime(ctx context.Context, opts runtime.Options, f func(*runtime.Runtime) error) error {
	rt, err := runtime.Open(ctx, cfg, opts, logger)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Warn("runtime close", "err", err)
		}
	}()
	return f(rt)
}
