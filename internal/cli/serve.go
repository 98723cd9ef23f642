package cli

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragd/internal/alerts"
	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/knowledge"
	"github.com/nickcecere/ragd/internal/server"
	"github.com/nickcecere/ragd/internal/ui"
)

var (
	serveAddr   string
	serveNoSeed bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API.

Before accepting traffic the server seeds an empty collection from the
knowledge base file (rag.seed_path). A collection that already holds
documents is left untouched.

Endpoints:
  GET  /            health check
  POST /ingest      {"docs": [{"id", "text", "metadata"}]}
  POST /query       {"query", "k"}
  GET  /alerts      ?province=&alarm_only=
  GET  /knowledge   ?category=&topic=`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveNoSeed, "no-seed", false, "skip seeding the knowledge base")
}

func runServe(cmd *cobra.Command, args []string) error {
	ui.UseServerLogging()
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if !serveNoSeed {
		loaded := a.rag.LoadKnowledgeFromJSON(ctx, cfg.RAG.SeedPath)
		log.Info("Startup seed loaded", "count", loaded)
	}

	opts := server.OptionsFromConfig(cfg)
	if serveAddr != "" {
		opts.Addr = serveAddr
	}

	if cfg.Alerts.URL == "" {
		log.Warn("alerts.url is not set, /alerts will return 503")
	}

	srv := server.New(
		a.rag,
		alerts.NewClientFromConfig(cfg),
		knowledge.NewLoader(cfg.Knowledge.Path),
		opts,
	)
	return srv.ListenAndServe(ctx)
}
