package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/aretw0/pergola/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp <graph.yaml>",
	Short: "Expose a graph's runs as MCP tools",
	Long: `Starts a Model Context Protocol server offering start_run, resume_run,
get_state, patch_state, list_checkpoints and get_graph for one graph.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd, false, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.LoadEngine(args[0])
		if err != nil {
			return err
		}
		srv := mcpadapter.NewServer(eng, env.Logger)

		transport, _ := cmd.Flags().GetString("transport")
		switch transport {
		case "stdio":
			return srv.ServeStdio()
		case "sse":
			port, _ := cmd.Flags().GetInt("port")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ServeSSE(ctx, port)
		default:
			return fmt.Errorf("unknown transport %q (want stdio or sse)", transport)
		}
	},
}

func init() {
	mcpCmd.Flags().String("transport", "stdio", "Transport: stdio or sse")
	mcpCmd.Flags().Int("port", 8080, "Port for the sse transport")
	rootCmd.AddCommand(mcpCmd)
}
