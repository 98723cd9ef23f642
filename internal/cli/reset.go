package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/ui"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every document in the collection",
	Long: `Delete every document and vector in the configured collection.

The next 'ragd serve' seeds the empty collection from the knowledge base
file again.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if !resetYes {
		fmt.Printf("Delete all documents in %s? [y/N] ", ui.Bold.Render(cfg.Database.Collection))
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.vector.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("%s collection %q is empty\n", ui.Success.Render("Reset:"), cfg.Database.Collection)
	return nil
}
