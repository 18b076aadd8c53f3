package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/config"
	"github.com/user/gosec-mcp/pkg/dispatch"
	"github.com/user/gosec-mcp/pkg/engine"
	"github.com/user/gosec-mcp/pkg/mcpclient"
)

var scanOpts struct {
	backends  []string
	focus     string
	mode      string
	noFix     bool
	jsonOut   bool
	reportOut string
	fixedOut  string
}

var scanCmd = &cobra.Command{
	Use:   "scan <file>",
	Short: "Scan a source file with every backend and propose a fix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return runScan(ctx, args[0])
	},
}

func runScan(ctx context.Context, path string) error {
	if !engine.SupportedSource(path) {
		return fmt.Errorf("unsupported file type %q (supported: .py, .js, .java, .go, .rb)", filepath.Ext(path))
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	mode := cfg.Dispatch.Mode
	if scanOpts.mode != "" {
		mode = strings.ToLower(scanOpts.mode)
	}

	var llm adk.LLMProvider
	if mode == config.ModeAgent || !scanOpts.noFix {
		if llm, err = newProvider(ctx, cfg); err != nil {
			return err
		}
		defer closeProvider(llm)
	}

	templates, err := loadTemplates(cfg)
	if err != nil {
		return err
	}
	_, policies, err := loadPolicies(cfg)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	pool := mcpclient.NewPool(mcpclient.WithDialTimeout(cfg.Dispatch.Timeout))
	defer pool.Close()
	inv, err := newInvoker(mode, llm, pool, templates)
	if err != nil {
		return err
	}

	report, err := newCoordinator(cfg, reg, inv).Dispatch(ctx, dispatch.ScanRequest{
		Artifact: string(code),
		Backends: scanOpts.backends,
		Focus:    scanOpts.focus,
		Policies: policies,
	})
	if err != nil {
		return err
	}

	if scanOpts.jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		for _, d := range report.Diagnostics {
			fmt.Printf("warning: %s %s\n", d.Backend, d.Message)
		}
		fmt.Println(report.SummaryTable())
		fmt.Println()
		fmt.Println(report.Markdown())
	}

	if scanOpts.reportOut != "" {
		if err := report.Save(scanOpts.reportOut); err != nil {
			return fmt.Errorf("saving report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Report saved to %s\n", scanOpts.reportOut)
	}

	if scanOpts.noFix {
		return nil
	}
	fix := engine.NewRemediationEngine(llm, templates).Run(ctx, engine.FixRequest{
		Filename: path,
		Code:     string(code),
		Focus:    scanOpts.focus,
	})
	if fix.Err != nil {
		fmt.Fprintf(os.Stderr, "Fix stage failed: %v\n", fix.Err)
		return nil
	}
	if !scanOpts.jsonOut {
		fmt.Println()
		fmt.Println(fix.Diff.String())
	}

	if scanOpts.fixedOut != "" && fix.Diff.Changed() {
		if err := os.WriteFile(scanOpts.fixedOut, []byte(fix.Revised), 0644); err != nil {
			return fmt.Errorf("saving corrected file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Corrected file saved to %s\n", scanOpts.fixedOut)
	}
	return nil
}

func init() {
	f := scanCmd.Flags()
	f.StringSliceVarP(&scanOpts.backends, "backends", "b", nil, "Backends to use (default all)")
	f.StringVar(&scanOpts.focus, "focus", "", "Analysis focus, e.g. 'SQL injection'")
	f.StringVar(&scanOpts.mode, "mode", "", "Invocation mode: agent or direct (overrides config)")
	f.BoolVar(&scanOpts.noFix, "no-fix", false, "Skip the fix proposal")
	f.BoolVar(&scanOpts.jsonOut, "json", false, "Print the report as JSON")
	f.StringVar(&scanOpts.reportOut, "report-out", "", "Write the JSON report to this file")
	f.StringVar(&scanOpts.fixedOut, "fixed-out", "", "Write the corrected file here")
	rootCmd.AddCommand(scanCmd)
}
