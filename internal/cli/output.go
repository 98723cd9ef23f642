package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/nickcecere/ragd/internal/rag"
	"github.com/nickcecere/ragd/internal/ui"
)

// startSpinner animates message on the current line until the returned func
// is called.
func startSpinner(message string) (stop func()) {
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go showSpinner(message, stopCh, doneCh)
	return func() {
		close(stopCh)
		<-doneCh
	}
}

// showSpinner displays an animated spinner until stopCh is closed.
func showSpinner(message string, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	defer close(doneCh)

	i := 0
	for {
		select {
		case <-stopCh:
			// Clear spinner line
			fmt.Print("\r\033[2K")
			return
		case <-ticker.C:
			fmt.Printf("\r%s %s", ui.Highlight.Render(frames[i]), message)
			i = (i + 1) % len(frames)
		}
	}
}

// renderMarkdown renders markdown content using glamour.
func renderMarkdown(content string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(content)
}

// markdownRenderer adapts renderMarkdown for the chat view, falling back to
// the raw text.
func markdownRenderer(content string, width int) string {
	out, err := renderMarkdown(content, width)
	if err != nil {
		return content
	}
	return out
}

// printResult writes an answer and its sources to stdout.
func printResult(res *rag.Result, showSnippets bool) {
	fmt.Println(ui.Header.Render("Answer"))
	if !res.Structured {
		fmt.Println(ui.Warning.Render("(the model did not return a structured reply)"))
	}

	rendered, err := renderMarkdown(res.Answer, 100)
	if err != nil {
		fmt.Println(res.Answer)
	} else {
		fmt.Print(rendered)
	}

	if len(res.Sources) == 0 {
		fmt.Println(ui.Dim.Render("No sources were retrieved."))
		return
	}

	used := make(map[int]bool, len(res.UsedSourceIndexes))
	for _, i := range res.UsedSourceIndexes {
		used[i] = true
	}

	fmt.Println(ui.Dim.Render("Sources:"))
	for i, src := range res.Sources {
		label := src.ID
		if v, ok := src.Metadata["source"]; ok {
			label = fmt.Sprint(v)
		}
		marker := ui.Dim.Render(fmt.Sprintf("  [%d]", i+1))
		if used[i+1] {
			marker = ui.Citation.Render(fmt.Sprintf("* [%d]", i+1))
		}
		fmt.Printf("%s %s %s\n", marker, ui.SourceName.Render(label), ui.FormatDistance(src.Distance))
		if showSnippets {
			fmt.Println(ui.Snippet.Render(preview(src.Text, 200)))
		}
	}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
