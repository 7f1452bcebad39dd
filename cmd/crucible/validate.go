package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hdlforge/crucible/internal/graph"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the design context and DAG for consistency",
	Long: `Loads both planner documents and reports missing modules, unknown
dependencies, duplicate ids, and dependency cycles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		store, err := graph.Load(cfg.DesignContext, cfg.DAG)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		fmt.Printf("Design is valid: %d modules, top module %s\n", len(store.DAG.Nodes), store.Context.TopModule)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
