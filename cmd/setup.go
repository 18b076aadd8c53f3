package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/config"
	"github.com/user/gosec-mcp/pkg/probe"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Run: func(cmd *cobra.Command, args []string) {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("Welcome to GoSec-MCP Setup Wizard")
		fmt.Println("---------------------------------")

		// 1. Select Provider
		fmt.Println("Step 1: Choose your AI Provider")
		fmt.Println("1. Nebius AI Studio (default)")
		fmt.Println("2. OpenAI")
		fmt.Println("3. Gemini (Google)")
		fmt.Print("Enter number or name > ")
		scanner.Scan()
		choice := strings.ToLower(strings.TrimSpace(scanner.Text()))

		var provider string
		switch choice {
		case "", "1", "nebius":
			provider = "nebius"
		case "2", "openai":
			provider = "openai"
		case "3", "gemini":
			provider = "gemini"
		default:
			fmt.Println("Invalid choice. Aborting.")
			return
		}

		// 2. Enter API Key
		fmt.Printf("\nStep 2: Enter API Key for %s\n", provider)
		if env := config.CredentialEnv(provider); env != "" {
			fmt.Printf("(leave empty to use $%s)\n", env)
		}
		fmt.Print("> ")
		scanner.Scan()
		typedKey := strings.TrimSpace(scanner.Text())
		apiKey := typedKey
		if apiKey == "" {
			apiKey = os.Getenv(config.CredentialEnv(provider))
		}
		if apiKey == "" {
			fmt.Println("API Key cannot be empty.")
			return
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			return
		}

		// OpenAI-wire providers can be pointed at a compatible endpoint.
		if provider != "gemini" {
			current := cfg.BaseURL(provider)
			fmt.Printf("\nOptional: base URL for %s (empty keeps %q)\n> ", provider, orDefault(current, "built-in"))
			scanner.Scan()
			if u := strings.TrimSpace(scanner.Text()); u != "" {
				cfg.SetBaseURL(provider, u)
			}
		}

		// 3. Fetch Models
		fmt.Println("\nStep 3: Validating key and fetching available models...")
		ctx := context.Background()

		// Temporary provider to list models; no model selected yet
		tempProvider, err := adk.NewProvider(ctx, provider, apiKey, "", cfg.BaseURL(provider))
		if err != nil {
			fmt.Printf("Error initializing provider: %v\n", err)
			return
		}

		defer closeProvider(tempProvider)

		models, err := tempProvider.ListModels(ctx)
		var selectedModel string

		if err == nil && len(models) == 0 {
			err = fmt.Errorf("no models returned")
		}
		if err != nil {
			fmt.Printf("Warning: Could not fetch models from API: %v\n", err)
			fmt.Println("Please enter model name manually (e.g., 'Qwen/Qwen3-30B-A3B-fast', 'gpt-4o-mini'):")
			fmt.Print("> ")
			scanner.Scan()
			selectedModel = strings.TrimSpace(scanner.Text())
		} else {
			fmt.Printf("Successfully retrieved %d models.\n", len(models))
			for i, m := range models {
				fmt.Printf("%d. %s\n", i+1, m)
			}
			fmt.Print("Select Model (number) > ")
			scanner.Scan()
			selStr := strings.TrimSpace(scanner.Text())
			selIdx, err := strconv.Atoi(selStr)
			if err != nil || selIdx < 1 || selIdx > len(models) {
				fmt.Println("Invalid selection. Using first available model.")
				selectedModel = models[0]
			} else {
				selectedModel = models[selIdx-1]
			}
		}

		// 4. Dispatch mode
		fmt.Println("\nStep 4: How should scans reach the backends?")
		fmt.Println("1. agent: the model calls each backend tool (default)")
		fmt.Println("2. direct: call the backend tools without the model")
		fmt.Print("> ")
		scanner.Scan()
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "2", config.ModeDirect:
			cfg.Dispatch.Mode = config.ModeDirect
		case "", "1", config.ModeAgent:
			cfg.Dispatch.Mode = config.ModeAgent
		default:
			fmt.Printf("Unknown mode, keeping %s.\n", cfg.Dispatch.Mode)
		}

		// 5. Save Configuration
		fmt.Println("\nStep 5: Saving Configuration...")

		cfg.SelectedProvider = provider
		cfg.SelectedModel = selectedModel
		if typedKey != "" {
			cfg.SetAPIKey(provider, typedKey)
		}

		if err := config.SaveConfig(cfg); err != nil {
			fmt.Printf("Error saving config: %v\n", err)
			return
		}

		fmt.Println("---------------------------------")
		fmt.Println("Setup Complete!")
		fmt.Printf("Provider: %s\n", provider)
		fmt.Printf("Model:    %s\n", selectedModel)
		fmt.Printf("Mode:     %s\n", cfg.Dispatch.Mode)

		if reg, err := loadRegistry(cfg); err == nil {
			down := probe.Unreachable(newProber(cfg).CheckAll(ctx, reg.All()))
			if len(down) > 0 {
				fmt.Printf("Note: %d of %d backends are not reachable yet; run 'gosec-mcp check' once they are up.\n", len(down), len(reg.All()))
			}
		}
		fmt.Println("You can now run 'gosec-mcp scan <file>' or 'gosec-mcp interactive'")
	},
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func init() {
	configCmd.AddCommand(setupCmd)
}
