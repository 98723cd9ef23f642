package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragd/internal/config"
)

var (
	askK        int
	askJSON     bool
	askSnippets bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer a question from the indexed documents",
	Long: `Retrieve the passages closest to the question and ask the configured
language model to answer from them.

Sources the model cited are marked with *.

Examples:
  ragd ask "how much water should I store?"
  ragd ask "what goes in a go-bag" -k 8 --snippets
  ragd ask "flood evacuation" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askK, "top-k", "k", 0, "number of passages to retrieve (default rag.top_k)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the response as JSON")
	askCmd.Flags().BoolVarP(&askSnippets, "snippets", "s", false, "show a snippet of each source")
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("query must not be empty")
	}
	if cmd.Flags().Changed("top-k") && askK < 1 {
		return fmt.Errorf("--top-k must be at least 1")
	}

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Debug("Answering", "query", query, "k", askK)

	var stop func()
	if !askJSON {
		stop = startSpinner("Generating answer")
	}
	res, err := a.rag.Answer(ctx, query, askK)
	if stop != nil {
		stop()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	printResult(res, askSnippets)
	return nil
}
