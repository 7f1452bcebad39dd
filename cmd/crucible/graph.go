package main

import (
	"fmt"

	"github.com/spf13/cobra"

	dag "github.com/hdlforge/crucible/internal/graph"
	"github.com/hdlforge/crucible/internal/presentation/graph"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the design DAG visualization",
	Long:  `Loads the planner documents and outputs a Mermaid diagram (graph TD) of the module dependency graph.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		store, err := dag.Load(cfg.DesignContext, cfg.DAG)
		if err != nil {
			return err
		}

		fmt.Print(graph.GenerateMermaid(store, nil))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
