package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-io/quarry/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [file]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  quarry graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	dag, err := engine.BuildDAG(dep.Resources)
	if err != nil {
		return err
	}

	fmt.Print(dag.DOT())
	return nil
}
