package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/docs"
	"github.com/nickcecere/ragd/internal/ingest"
	"github.com/nickcecere/ragd/internal/ui"
	"github.com/nickcecere/ragd/internal/vectordb"
	"github.com/nickcecere/ragd/internal/watcher"
)

var (
	ingestExtensions []string
	ingestIgnore     []string
	ingestDryRun     bool
	ingestWatch      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json|file|dir>",
	Short: "Add documents to the collection",
	Long: `Add documents to the collection.

A .json file is read as an ingestion request ({"docs": [...]}), the same
shape POST /ingest accepts. Any other file, or every text file under a
directory, is split into chunks with ids of the form "<path>#<chunk>".

Documents whose id is already stored are skipped, so re-running ingest on
an unchanged tree only embeds what is new.

Examples:
  ragd ingest data/knowledge_base.json
  ragd ingest ./guides --ext .md
  ragd ingest ./guides --dry-run
  ragd ingest ./inbox --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringSliceVarP(&ingestExtensions, "ext", "e", nil, "file extensions to include (default from loader.extensions)")
	ingestCmd.Flags().StringSliceVarP(&ingestIgnore, "ignore", "i", nil, "additional patterns to ignore")
	ingestCmd.Flags().BoolVarP(&ingestDryRun, "dry-run", "d", false, "show what would be ingested")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "keep running and ingest files as they are created or changed")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	path := args[0]
	loader := docs.NewLoader(loaderOptions(cfg))

	if ingestWatch {
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			return fmt.Errorf("--watch needs a directory: %s", path)
		}
	}

	raw, err := loadRawDocuments(loader, path)
	if err != nil {
		return err
	}
	if len(raw) == 0 && !ingestWatch {
		return fmt.Errorf("no text found in %s", path)
	}

	var documents []vectordb.Document
	if len(raw) > 0 {
		documents, err = ingest.Normalize(raw)
		if err != nil {
			return err
		}
	}

	if ingestDryRun {
		fmt.Println(ui.Header.Render("Dry run"))
		fmt.Println()
		for _, d := range documents {
			fmt.Printf("  %s %s\n", ui.SourceName.Render(d.ID), ui.Dim.Render(fmt.Sprintf("(%d chars)", len([]rune(d.Text)))))
		}
		fmt.Printf("\n%d documents would be ingested into %q\n", len(documents), cfg.Database.Collection)
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(documents) > 0 {
		log.Debug("Ingesting documents", "count", len(documents), "collection", cfg.Database.Collection)

		stop := startSpinner(fmt.Sprintf("Embedding %d documents", len(documents)))
		res, err := a.rag.Ingest(ctx, documents)
		stop()

		if err != nil {
			if ctx.Err() != nil {
				fmt.Printf("Interrupted after %d documents\n", res.Added)
				return nil
			}
			return fmt.Errorf("ingest failed after %d documents: %w", res.Added, err)
		}

		fmt.Printf("%s %d added, %d skipped\n", ui.Success.Render("Done:"), res.Added, res.Skipped)
	}

	if !ingestWatch {
		return nil
	}

	walker, err := docs.NewWalker(withRoot(loaderOptions(cfg).Walk, path))
	if err != nil {
		return err
	}
	w := watcher.New(walker, loader, a.rag, watcher.WithDebounceTime(time.Second))
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func loaderOptions(cfg *config.Config) docs.Options {
	opts := docs.OptionsFromConfig(cfg)
	if len(ingestExtensions) > 0 {
		opts.Walk.Extensions = ingestExtensions
	}
	opts.Walk.IgnorePatterns = append(slices.Clone(opts.Walk.IgnorePatterns), ingestIgnore...)
	return opts
}

func withRoot(opts docs.WalkOptions, root string) docs.WalkOptions {
	opts.Root = root
	return opts
}

func loadRawDocuments(loader *docs.Loader, path string) ([]ingest.RawDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %s", path)
	}

	if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var req ingest.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return req.Docs, nil
	}

	if !info.IsDir() {
		return loader.LoadFile(path)
	}

	raw, stats, err := loader.LoadDir(path)
	if err != nil {
		return nil, err
	}
	log.Info("Scanned directory", "files", stats.FilesFound, "skipped", stats.FilesSkipped, "chunks", len(raw))
	return raw, nil
}
