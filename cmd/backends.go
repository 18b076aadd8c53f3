package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the registered scanning backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}

		w := table.NewWriter()
		w.SetStyle(table.StyleLight)
		w.AppendHeader(table.Row{"Name", "Tool", "Endpoint", "Transport", "Health", "Description"})
		for _, b := range reg.All() {
			w.AppendRow(table.Row{b.Name, b.Tool, b.Endpoint, b.Transport, b.HealthAddr(), b.Description})
		}
		fmt.Println(w.Render())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
