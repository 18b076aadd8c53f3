package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/backend"
	"github.com/user/gosec-mcp/pkg/wrappers"
)

var serveOpts struct {
	name string
	addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve-backend",
	Short: "Host one scanner backend as an MCP server",
	Long: fmt.Sprintf(`Runs the scanner tools of one backend behind an MCP server.
Streamable HTTP is served on %s, SSE on %s.
Backends: %s`, backend.StreamablePath, backend.SSEPath, strings.Join(backend.Names(), ", ")),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		addr := serveOpts.addr
		if addr == "" {
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			b, ok := reg.Lookup(serveOpts.name)
			if !ok {
				return fmt.Errorf("backend %q is not registered; pass --addr", serveOpts.name)
			}
			addr = fmt.Sprintf(":%d", b.HealthPort)
		}

		var llm adk.LLMProvider
		if backend.NeedsLLM(serveOpts.name) {
			if llm, err = newProvider(ctx, cfg); err != nil {
				return err
			}
			defer closeProvider(llm)
		}

		tools, err := backend.ToolsFor(serveOpts.name, wrappers.ExecRunner{}, llm)
		if err != nil {
			return err
		}
		srv, err := backend.NewServer(serveOpts.name, tools)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.name, "name", "", "Backend to serve")
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", "Listen address (default the backend's port)")
	_ = serveCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(serveCmd)
}
