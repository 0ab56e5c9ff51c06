// Package workspace locates the .orca directory and the plan folders under
// it. All commands resolve paths through here so the layout is defined in
// one place:
//
//	.orca/
//	  config.toml
//	  plans/<name>/plan.md
//	  plans/<name>/status.json
//	  plans/<name>/findings/
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	orcaDirName  = ".orca"
	plansDirName = "plans"
	planFileName = "plan.md"
)

// FindRoot walks up from the working directory looking for a .orca folder.
// Returns the directory containing it.
func FindRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		orcaPath := filepath.Join(dir, orcaDirName)
		if info, err := os.Stat(orcaPath); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return "", fmt.Errorf("%s directory not found, run `orca plan create` from your repository", orcaDirName)
		}
		dir = parent
	}
}

// OrcaDir returns the .orca directory under the given root.
func OrcaDir(root string) string {
	return filepath.Join(root, orcaDirName)
}

// PlanDir returns the folder for the named plan. The folder may not exist
// yet; callers that need an existing plan use FindPlanDir.
func PlanDir(orcaDir, name string) string {
	return filepath.Join(orcaDir, plansDirName, name)
}

// PlanFile returns the stored plan document path inside a plan folder.
func PlanFile(planDir string) string {
	return filepath.Join(planDir, planFileName)
}

// FindPlanDir resolves an existing plan folder by name.
func FindPlanDir(orcaDir, name string) (string, error) {
	dir := PlanDir(orcaDir, name)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("plan not found: %s", name)
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("plan path is not a directory: %s", dir)
	}
	return dir, nil
}

// ListPlans returns the names of all plan folders, newest status first.
func ListPlans(orcaDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(orcaDir, plansDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type planInfo struct {
		name  string
		mtime int64
	}
	var plans []planInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := planInfo{name: e.Name()}
		if st, err := os.Stat(filepath.Join(PlanDir(orcaDir, e.Name()), "status.json")); err == nil {
			info.mtime = st.ModTime().UnixNano()
		}
		plans = append(plans, info)
	}

	sort.Slice(plans, func(i, j int) bool {
		if plans[i].mtime != plans[j].mtime {
			return plans[i].mtime > plans[j].mtime
		}
		return plans[i].name < plans[j].name
	})

	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.name
	}
	return names, nil
}
