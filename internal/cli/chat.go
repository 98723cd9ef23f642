package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/tui"
	"github.com/nickcecere/ragd/internal/ui"
)

var (
	chatK     int
	chatPlain bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	Long: `Open a full-screen chat over the indexed documents.

Type a question and press Enter. Use PgUp/PgDn to scroll and Esc or
Ctrl+C to quit.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().IntVarP(&chatK, "top-k", "k", 0, "number of passages to retrieve (default rag.top_k)")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "do not render answers as markdown")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var render tui.Renderer
	if !chatPlain {
		render = markdownRenderer
	}

	title := fmt.Sprintf("ragd · %s", cfg.Database.Collection)
	m := tui.New(ctx, a.rag, chatK, title, render)

	restore := ui.Silence()
	defer restore()

	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
