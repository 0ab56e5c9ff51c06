package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/orca/internal/config"
	"github.com/BenjaminRose805/orca/internal/graph"
	"github.com/BenjaminRose805/orca/internal/plan"
	"github.com/BenjaminRose805/orca/internal/state"
	"github.com/BenjaminRose805/orca/internal/workspace"
)

var (
	createName   string
	createDryRun bool
)

var createCmd = &cobra.Command{
	Use:   "create <plan.md>",
	Short: "Create a plan from a plan document",
	Long: `Parse a plan markdown document, validate its structure and dependency
graph, and initialize the status store with every task pending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath := args[0]

		if err := validateCreateInput(filePath); err != nil {
			return err
		}

		doc, err := plan.ParseFile(filePath)
		if err != nil {
			return err
		}
		g, err := graph.Build(doc)
		if err != nil {
			return err
		}

		name := createName
		if name == "" {
			name = doc.Name
		}

		if createDryRun {
			printDryRunPreview(name, doc, g)
			return nil
		}

		root, err := workspace.FindRoot()
		if err != nil {
			// First plan in a fresh repository: create .orca next to cwd.
			root, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		orcaDir := workspace.OrcaDir(root)
		planDir := workspace.PlanDir(orcaDir, name)

		if _, err := os.Stat(planDir); err == nil {
			return fmt.Errorf("plan %q already exists at %s", name, planDir)
		}
		if err := os.MkdirAll(filepath.Join(planDir, "findings"), 0755); err != nil {
			return fmt.Errorf("failed to create plan directory: %w", err)
		}

		// Keep a copy of the document inside the plan folder; it is the
		// source of truth for the rebuild recovery path.
		content, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(workspace.PlanFile(planDir), content, 0644); err != nil {
			return err
		}

		cfg, err := config.Load(orcaDir)
		if err != nil {
			return err
		}
		store := state.NewStore(planDir, cfg.LockTimeout.Std(), cfg.LockStaleAfter.Std(), nil)
		if err := store.Init(cmd.Context(), g.InitialStatus()); err != nil {
			return err
		}

		printCreateSuccess(name, doc, g)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "Name for the plan (defaults to the file name)")
	createCmd.Flags().BoolVar(&createDryRun, "dry-run", false, "Validate and preview without creating anything")
}

func validateCreateInput(filePath string) error {
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to access file: %w", err)
	}
	if !strings.HasSuffix(strings.ToLower(filePath), ".md") {
		return fmt.Errorf("plan document must be markdown (.md): %s", filePath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("plan document is empty: %s", filePath)
	}
	return nil
}

func printDryRunPreview(name string, doc *plan.Document, g *graph.Graph) {
	fmt.Println()
	fmt.Println("Plan preview (dry run - nothing saved):")
	fmt.Println()
	fmt.Printf("  Name: %s\n", name)
	fmt.Printf("  Phases: %d\n", len(doc.Phases))
	fmt.Printf("  Tasks: %d\n", len(g.Order()))
	if n := len(g.Constraints()); n > 0 {
		fmt.Printf("  Constraint groups: %d\n", n)
	}
	fmt.Println()

	for _, id := range g.Order() {
		node := g.Node(id)
		fmt.Printf("  %s: %s\n", node.ID, node.Description)
		if len(node.Dependencies) > 0 {
			fmt.Printf("       after: %s\n", strings.Join(node.Dependencies, ", "))
		}
	}

	fmt.Println()
	fmt.Println("To create this plan, run without --dry-run.")
}

func printCreateSuccess(name string, doc *plan.Document, g *graph.Graph) {
	fmt.Println()
	fmt.Printf("Plan created: %s\n", name)
	fmt.Println()
	fmt.Printf("  %d tasks across %d phases, all pending.\n", len(g.Order()), len(doc.Phases))
	fmt.Println()
	fmt.Printf("Run `orca plan run %s` to start execution.\n", name)
}
