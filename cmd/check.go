package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/user/gosec-mcp/pkg/probe"
)

var checkWait bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that every backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		prober := newProber(cfg)
		backends := reg.All()

		if checkWait {
			for _, b := range backends {
				url := "http://" + b.HealthAddr() + "/"
				fmt.Printf("Waiting for %s at %s...\n", b.Name, url)
				prober.WaitReady(ctx, url)
			}
		}

		statuses := prober.CheckAll(ctx, backends)
		w := table.NewWriter()
		w.SetStyle(table.StyleLight)
		w.AppendHeader(table.Row{"Backend", "Address", "Status", "Latency", "Error"})
		for _, st := range statuses {
			status := "reachable"
			if !st.Reachable {
				status = "unreachable"
			}
			w.AppendRow(table.Row{st.Backend, st.Addr, status, st.Latency.Round(time.Millisecond), st.Error})
		}
		fmt.Println(w.Render())

		if down := probe.Unreachable(statuses); len(down) > 0 {
			return fmt.Errorf("%d of %d backends unreachable", len(down), len(statuses))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkWait, "wait", false, "Poll each backend until it answers HTTP before checking")
	rootCmd.AddCommand(checkCmd)
}
