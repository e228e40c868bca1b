package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chatflow/backend/internal/workflow"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-workflow FILE",
		Short: "Lint a workflow document (JSON or YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			g, err := workflow.Parse(doc)
			if err != nil {
				return err
			}

			issues := workflow.Validate(g)
			out := cmd.OutOrStdout()
			for _, i := range issues {
				if i.BlockID != "" {
					fmt.Fprintf(out, "%s\t%s\t%s\n", i.Severity, i.BlockID, i.Message)
				} else {
					fmt.Fprintf(out, "%s\t-\t%s\n", i.Severity, i.Message)
				}
			}
			if workflow.HasErrors(issues) {
				return fmt.Errorf("%s has errors", args[0])
			}
			fmt.Fprintf(out, "%s: %d blocks, %d connections, %d warnings\n",
				args[0], len(g.Blocks), len(g.Connections), len(issues))
			return nil
		},
	}
}

// loadWorkflowFile reads a workflow and returns it as JSON. YAML files are
// converted through the graph types so authors can write either.
func loadWorkflowFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var g workflow.Graph
		if err := yaml.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if g.Connections == nil {
			g.Connections = []workflow.Connection{}
		}
		return json.Marshal(g)
	default:
		return data, nil
	}
}
