package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/engine"
	"github.com/user/gosec-mcp/pkg/logging"
	"github.com/user/gosec-mcp/pkg/mcpclient"
	"github.com/user/gosec-mcp/pkg/wrappers"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start the interactive agent session",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			return
		}

		ctx := context.Background()
		fmt.Printf("Connecting to %s (Model: %s)...\n", cfg.SelectedProvider, cfg.SelectedModel)
		provider, err := newProvider(ctx, cfg)
		if err != nil {
			fmt.Printf("Error creating AI provider: %v\n", err)
			fmt.Println("Please run 'gosec-mcp config setup' to configure your keys.")
			return
		}
		defer closeProvider(provider)

		templates, err := loadTemplates(cfg)
		if err != nil {
			fmt.Printf("Warning: %v. Using built-in prompts.\n", err)
			templates = engine.DefaultTemplates()
		}
		policyEng, policies, err := loadPolicies(cfg)
		if err != nil {
			fmt.Printf("Warning: Failed to load compliance profiles: %v\n", err)
			policyEng = engine.NewPolicyEngine()
		}
		reg, err := loadRegistry(cfg)
		if err != nil {
			fmt.Printf("Error loading backends: %v\n", err)
			return
		}

		pool := mcpclient.NewPool(mcpclient.WithDialTimeout(cfg.Dispatch.Timeout))
		defer pool.Close()
		inv, err := newInvoker(cfg.Dispatch.Mode, provider, pool, templates)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		agent := adk.NewAgent(provider)

		// Remote scanner tools; an unreachable backend only loses its tools.
		for _, b := range reg.All() {
			tools, err := pool.RemoteTools(ctx, b)
			if err != nil {
				fmt.Printf("Warning: backend %s unavailable: %v\n", b.Name, err)
				continue
			}
			for _, t := range tools {
				agent.RegisterTool(t)
			}
		}

		session := &wrappers.Session{}
		agent.RegisterTool(&wrappers.ScanWrapper{Dispatcher: newCoordinator(cfg, reg, inv), Session: session, Policies: policies})
		agent.RegisterTool(&wrappers.ReportViewerWrapper{Session: session})
		agent.RegisterTool(&wrappers.ComplianceWrapper{Engine: policyEng})
		agent.RegisterTool(&wrappers.RemediationWrapper{Engine: engine.NewRemediationEngine(provider, templates), Session: session})
		agent.RegisterTool(&wrappers.SaveSnapshotWrapper{Session: session})
		agent.RegisterTool(&wrappers.DiffSnapshotWrapper{Session: session})

		systemPrompt, err := templates.Render(adk.PromptSystem, nil)
		if err != nil {
			systemPrompt = adk.GetSystemPrompt()
		}
		agent.SetSystemPrompt(systemPrompt)

		// Start chat loop
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("\n---------------------------------------------------------")
		fmt.Printf("GoSec-MCP Agent Initialized with %d tools. Ready for commands.\n", len(agent.Tools()))
		fmt.Println("Example: 'Scan app.py and summarize the findings'")
		fmt.Println("Example: 'Check this code for hardcoded secrets: ...'")
		fmt.Println("Type 'quit' or 'exit' to stop.")
		fmt.Println("---------------------------------------------------------")

		for {
			fmt.Print("\n> ")
			if !scanner.Scan() {
				break
			}
			input := scanner.Text()
			if input == "quit" || input == "exit" {
				break
			}
			if input == "" {
				continue
			}

			fmt.Print("Agent thinking... ")
			resp, err := agent.Chat(ctx, input, func(msg string) {
				// Clear current line and print progress
				fmt.Printf("\r\033[K[Progress]: %s\nAgent thinking... ", msg)
			})
			// Clear thinking line
			fmt.Print("\r\033[K")

			if err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Printf("\n[Agent]: %s\n", resp)
			}
			if logging.DebugEnabled {
				fmt.Printf("[debug] history: %d messages\n", len(agent.History()))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}
