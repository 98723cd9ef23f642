package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/ui"
)

var (
	configShowPath bool
	configYAML     bool
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  ragd config

  # Show config file paths
  ragd config --path

  # Print the effective settings as YAML, secrets masked
  ragd config --yaml > ~/.config/ragd/config.yaml`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
	configCmd.Flags().BoolVar(&configYAML, "yaml", false, "print the effective settings as YAML")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configShowPath {
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  .ragdrc.yaml (searched from cwd upward)\n")
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("Database:      %s\n", config.Get().Database.Path)
		return nil
	}

	if configYAML {
		out, err := yaml.Marshal(maskSettings(viper.AllSettings()))
		if err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	cfg := config.Get()

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Printf("  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	fmt.Printf("  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	fmt.Printf("  API Key: %s\n", maskSecret(cfg.Embeddings.OpenAI.APIKey))
	fmt.Println()

	fmt.Println(ui.Bold.Render("LLM:"))
	fmt.Printf("  Provider: %s\n", cfg.LLM.Provider)
	fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
	fmt.Printf("  Max Tokens: %d\n", cfg.LLM.MaxTokens)
	fmt.Printf("  Ollama Model: %s\n", cfg.LLM.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.LLM.OpenAI.Model)
	fmt.Printf("  Anthropic Model: %s\n", cfg.LLM.Anthropic.Model)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Retrieval:"))
	fmt.Printf("  Top K: %d\n", cfg.RAG.TopK)
	fmt.Printf("  Language: %s\n", cfg.RAG.Language)
	fmt.Printf("  Seed Path: %s\n", cfg.RAG.SeedPath)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Server:"))
	fmt.Printf("  Address: %s\n", cfg.Server.Addr)
	fmt.Printf("  Timeouts: read %s, write %s\n", cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	fmt.Printf("  Alerts URL: %s\n", orUnset(cfg.Alerts.URL))
	fmt.Printf("  Knowledge Path: %s\n", cfg.Knowledge.Path)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Loader:"))
	fmt.Printf("  Max File Size: %d bytes\n", cfg.Loader.MaxFileSize)
	fmt.Printf("  Chunk Size: %d\n", cfg.Loader.ChunkSize)
	fmt.Printf("  Chunk Overlap: %d\n", cfg.Loader.ChunkOverlap)
	fmt.Printf("  Extensions: %v\n", cfg.Loader.Extensions)
	fmt.Printf("  Ignore Patterns: %d configured\n", len(cfg.Loader.Ignore))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Database:"))
	fmt.Printf("  Path: %s\n", cfg.Database.Path)
	fmt.Printf("  Collection: %s\n", cfg.Database.Collection)

	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// maskSettings returns a copy of settings with every api_key value masked.
func maskSettings(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		switch v := v.(type) {
		case map[string]any:
			out[k] = maskSettings(v)
		case string:
			if strings.HasSuffix(k, "api_key") {
				out[k] = maskSecret(v)
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}
	return out
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
