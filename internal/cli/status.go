package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/ui"
	"github.com/nickcecere/ragd/internal/vectordb"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collection status and statistics",
	Long: `Display information about the configured collection:
- Number of stored documents and characters
- Embedding provider, model and dimensions
- When the collection was created and last written to`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the statistics as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	log.Debug("Showing status", "collection", cfg.Database.Collection)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.vector.Stats(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Println(ui.Header.Render("Collection Status"))
	fmt.Println()

	fmt.Printf("%s %s\n", ui.Highlight.Render("Collection:"), ui.Bold.Render(stats.Collection))
	fmt.Printf("  %s %s (%s)\n", ui.Dim.Render("Model:"), stats.Model, stats.Provider)
	fmt.Printf("  %s %d\n", ui.Dim.Render("Dimensions:"), stats.Dimensions)
	fmt.Printf("  %s %d documents, %s\n", ui.Dim.Render("Stored:"), stats.Documents, formatChars(stats.TotalChars))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Created:"), formatTime(stats.CreatedAt))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Last add:"), formatTime(stats.LastAddedAt))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), healthStatus(stats))

	fmt.Println(ui.HorizontalRule(40))
	fmt.Println(ui.Dim.Render("Configuration:"))
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Embedding Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  LLM Provider: %s\n", cfg.LLM.Provider)
	fmt.Printf("  Seed file: %s %s\n", cfg.RAG.SeedPath, fileState(cfg.RAG.SeedPath))

	return nil
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	// If today, show time only
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return "today at " + t.Format("15:04")
	}

	// If this year, omit year
	if t.Year() == now.Year() {
		return t.Format("Jan 2 at 15:04")
	}

	return t.Format("Jan 2, 2006 at 15:04")
}

func formatChars(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM chars", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk chars", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d chars", n)
	}
}

// healthStatus returns a health indicator based on stats.
func healthStatus(stats *vectordb.Stats) string {
	if stats.Documents == 0 {
		return ui.Warning.Render("empty (run 'ragd ingest' or start the server to seed)")
	}
	if stats.Dimensions == 0 {
		return ui.Warning.Render("no vectors (re-ingest may be needed)")
	}
	return ui.Success.Render("healthy")
}

func fileState(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ui.Warning.Render("(missing)")
	}
	return ui.Dim.Render("(present)")
}
