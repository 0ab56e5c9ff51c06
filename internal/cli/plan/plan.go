package plan

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/orca/internal/config"
	"github.com/BenjaminRose805/orca/internal/graph"
	"github.com/BenjaminRose805/orca/internal/plan"
	"github.com/BenjaminRose805/orca/internal/state"
	"github.com/BenjaminRose805/orca/internal/workspace"
)

// PlanCmd is the parent command for plan-related subcommands.
var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage and execute plans",
	Long:  `Commands for creating, executing, and inspecting task plans.`,
}

func init() {
	PlanCmd.AddCommand(createCmd)
	PlanCmd.AddCommand(runCmd)
	PlanCmd.AddCommand(statusCmd)
	PlanCmd.AddCommand(validateCmd)
}

// Context bundles everything a command needs to operate on one existing
// plan: the resolved folders, the parsed document and graph, the config,
// and a store wired with the rebuild-from-plan recovery path.
type Context struct {
	Root    string
	OrcaDir string
	Dir     string
	Name    string
	Config  config.Config
	Doc     *plan.Document
	Graph   *graph.Graph
	Store   *state.Store
}

// Open resolves an existing plan by name and wires its store.
func Open(name string) (*Context, error) {
	root, err := workspace.FindRoot()
	if err != nil {
		return nil, err
	}
	orcaDir := workspace.OrcaDir(root)

	dir, err := workspace.FindPlanDir(orcaDir, name)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(orcaDir)
	if err != nil {
		return nil, err
	}

	doc, err := plan.ParseFile(workspace.PlanFile(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored plan document: %w", err)
	}
	g, err := graph.Build(doc)
	if err != nil {
		return nil, err
	}

	store := state.NewStore(dir, cfg.LockTimeout.Std(), cfg.LockStaleAfter.Std(),
		func() (*state.PlanStatus, error) { return g.InitialStatus(), nil })

	return &Context{
		Root:    root,
		OrcaDir: orcaDir,
		Dir:     dir,
		Name:    name,
		Config:  cfg,
		Doc:     doc,
		Graph:   g,
		Store:   store,
	}, nil
}
