package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration (providers, models, keys, dispatch settings)",
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Manually set API key for a provider",
	Run: func(cmd *cobra.Command, args []string) {
		provider, _ := cmd.Flags().GetString("provider")
		key, _ := cmd.Flags().GetString("key")

		if provider == "" || key == "" {
			fmt.Println("Error: --provider and --key are required")
			return
		}
		if !knownProvider(provider) {
			fmt.Printf("Error: unknown provider %q (use %s)\n", provider, strings.Join(adk.Providers, ", "))
			return
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			return
		}

		cfg.SetAPIKey(strings.ToLower(provider), key)
		if err := config.SaveConfig(cfg); err != nil {
			fmt.Printf("Error saving config: %v\n", err)
			return
		}
		fmt.Printf("API key saved for provider: %s\n", provider)
	},
}

var setModelCmd = &cobra.Command{
	Use:   "set-model",
	Short: "Manually set the active provider and model",
	Run: func(cmd *cobra.Command, args []string) {
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			return
		}

		if provider != "" {
			if !knownProvider(provider) {
				fmt.Printf("Error: unknown provider %q (use %s)\n", provider, strings.Join(adk.Providers, ", "))
				return
			}
			cfg.SelectedProvider = strings.ToLower(provider)
		}
		if model != "" {
			cfg.SelectedModel = model
		}

		if err := config.SaveConfig(cfg); err != nil {
			fmt.Printf("Error saving config: %v\n", err)
			return
		}
		fmt.Printf("Active configuration updated: Provider=%s, Model=%s\n", cfg.SelectedProvider, cfg.SelectedModel)
	},
}

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List available models from the configured provider",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Println("Error loading config:", err)
			return
		}

		provider := cfg.SelectedProvider
		fmt.Printf("Fetching models for %s...\n", provider)
		ctx := context.Background()
		p, err := newProvider(ctx, cfg)
		if err != nil {
			fmt.Println("Error initializing provider:", err)
			return
		}
		defer closeProvider(p)

		models, err := p.ListModels(ctx)
		if err != nil {
			fmt.Println("Error fetching models:", err)
			return
		}

		fmt.Printf("\nAvailable Models (%s):\n", provider)
		for _, m := range models {
			mark := " "
			if m == cfg.SelectedModel {
				mark = "*"
			}
			fmt.Printf("%s %s\n", mark, m)
		}
	},
}

var setBaseURLCmd = &cobra.Command{
	Use:   "set-base-url",
	Short: "Point a provider at another OpenAI-compatible endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		url, _ := cmd.Flags().GetString("url")
		if !knownProvider(provider) {
			return fmt.Errorf("unknown provider %q (use %s)", provider, strings.Join(adk.Providers, ", "))
		}
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg.SetBaseURL(strings.ToLower(provider), url)
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		if url == "" {
			fmt.Printf("Base URL cleared for provider: %s\n", provider)
		} else {
			fmt.Printf("Base URL for %s set to %s\n", provider, url)
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one dispatch, probe, policy or log setting",
	Long:  "Settable keys: " + strings.Join(config.Settable, ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (keys masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		path, _ := config.GetConfigPath()
		fmt.Printf("Config file: %s\n", path)
		fmt.Printf("Active: provider=%s model=%s\n\n", cfg.SelectedProvider, cfg.SelectedModel)

		pw := table.NewWriter()
		pw.SetStyle(table.StyleLight)
		pw.AppendHeader(table.Row{"Provider", "Key", "Source", "Base URL"})
		for _, name := range adk.Providers {
			source := "config"
			if cfg.Providers[name].APIKey == "" {
				source = "$" + config.CredentialEnv(name)
			}
			pw.AppendRow(table.Row{name, maskKey(cfg.GetAPIKey(name)), source, cfg.BaseURL(name)})
		}
		fmt.Println(pw.Render())

		sw := table.NewWriter()
		sw.SetStyle(table.StyleLight)
		sw.AppendHeader(table.Row{"Setting", "Value"})
		d, p := cfg.Dispatch, cfg.Probe
		for _, row := range []table.Row{
			{"dispatch.mode", d.Mode},
			{"dispatch.timeout", d.Timeout},
			{"dispatch.retries", d.Retries},
			{"dispatch.retry_delay", d.RetryDelay},
			{"dispatch.parallel", d.Parallel},
			{"dispatch.preflight", d.Preflight},
			{"probe.attempts", p.Attempts},
			{"probe.delay", p.Delay},
			{"probe.timeout", p.Timeout},
			{"profiles_dir", cfg.ProfilesDir},
			{"policy_standard", cfg.PolicyStandard},
			{"templates_dir", cfg.TemplatesDir},
			{"log.level", cfg.Log.Level},
			{"log.format", cfg.Log.Format},
		} {
			sw.AppendRow(row)
		}
		fmt.Println(sw.Render())
		if len(cfg.Backends) > 0 {
			fmt.Printf("%d backend override(s); see 'gosec-mcp backends'\n", len(cfg.Backends))
		}
		return nil
	},
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "(unset)"
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "..." + key[len(key)-4:]
	}
}

func knownProvider(name string) bool {
	for _, p := range adk.Providers {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

func init() {
	setKeyCmd.Flags().StringP("provider", "p", "", "Provider (nebius, openai, gemini)")
	setKeyCmd.Flags().StringP("key", "k", "", "API Key")

	setModelCmd.Flags().StringP("provider", "p", "", "Provider (nebius, openai, gemini)")
	setModelCmd.Flags().StringP("model", "m", "", "Model name")

	configCmd.AddCommand(setKeyCmd)
	configCmd.AddCommand(setModelCmd)
	setBaseURLCmd.Flags().StringP("provider", "p", "", "Provider (nebius, openai, gemini)")
	setBaseURLCmd.Flags().StringP("url", "u", "", "Endpoint base URL; empty clears it")
	_ = setBaseURLCmd.MarkFlagRequired("provider")

	configCmd.AddCommand(listModelsCmd)
	configCmd.AddCommand(setBaseURLCmd)
	configCmd.AddCommand(setCmd)
	configCmd.AddCommand(showCmd)
	rootCmd.AddCommand(configCmd)
}
