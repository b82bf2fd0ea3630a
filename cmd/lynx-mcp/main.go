// Command lynx-mcp serves the studio as Model Context Protocol tools over
// stdio. Results are written to disk and returned as file paths.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/cli"
	"github.com/fpang/lynx-studio/internal/config"
	"github.com/fpang/lynx-studio/internal/logging"
)

var version = "dev"

func main() {
	logging.Init()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	app, err := cli.NewStudio(ctx, "lynx-mcp", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize studio")
	}
	defer app.Close()

	outDir := logging.EnvOrDefault("LYNX_OUTPUT_DIR", ".")
	t := &tools{proc: app.Service, usage: app.Usage, model: cfg.Model, outDir: outDir}

	server := mcp.NewServer(&mcp.Implementation{Name: "lynx-studio", Version: version}, nil)
	t.register(server)

	log.Info().Str("outputDir", outDir).Msg("MCP server listening on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("MCP server stopped")
	}
}
