// Command DialogPipe runs the WhatsApp admission assistant: it receives
// messages from the configured provider, walks each conversation through the
// admission flows, and exposes the admin HTTP API.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/DialogPipe/internal/flow"
	"github.com/BTreeMap/DialogPipe/internal/lookup"
	"github.com/BTreeMap/DialogPipe/internal/records"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "DialogPipe",
		Short:         "Conversational flow engine for WhatsApp admission bots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newGraphCmd())
	return root
}

func newServeCmd() *cobra.Command {
	// Environment first so that flags registered below default to it.
	initializeLogger(parseLogLevel(os.Getenv("LOG_LEVEL")))
	cfg := loadEnvironmentConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			initializeLogger(parseLogLevel(cfg.LogLevel))
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("Bootstrapping DialogPipe", "provider", cfg.Provider, "state_dir", cfg.StateDir)
			if err := runServe(ctx, cfg); err != nil {
				slog.Error("DialogPipe failed to run", "error", err)
				return err
			}
			slog.Info("DialogPipe exited successfully")
			return nil
		},
	}
	bindFlags(cmd, &cfg)
	return cmd
}

func newGraphCmd() *cobra.Command {
	var caseInsensitive bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the admission flow graph as a Mermaid diagram",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeGraph(cmd.OutOrStdout(), Config{CaseInsensitive: caseInsensitive})
		},
	}
	cmd.Flags().BoolVar(&caseInsensitive, "case-insensitive", false, "build the graph with case-insensitive keywords")
	return cmd
}

// writeGraph builds the flows without live adapters; building never calls them.
func writeGraph(w io.Writer, cfg Config) error {
	g, err := buildGraph(cfg, records.NewMemoryStore(), nil, lookup.NewHTTPClient("", nil))
	if err != nil {
		return fmt.Errorf("flow graph: %w", err)
	}
	_, err = io.WriteString(w, flow.GenerateMermaid(g))
	return err
}
