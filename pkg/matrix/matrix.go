// Package matrix turns the requested set of targets into the ordered job
// list the pipeline executes. Dependencies always appear strictly before
// their dependents, and independent targets follow a fixed platform
// priority so logs stay comparable across runs.
package matrix

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opnlabs/crossforge/pkg/models"
	"github.com/opnlabs/crossforge/pkg/workspace"
)

var ErrUnsatisfiableDependency = errors.New("matrix: unsatisfiable target dependency")

// Platform priority: native first, then linux, windows, macos; within a
// platform 64-bit before 32-bit. Because every windows target depends on
// the linux target of matching bit-width, this ordering is already a
// topological order of the dependency graph.
func priority(t models.TargetSpec) int {
	base := map[models.HostOS]int{
		models.OSNative:  0,
		models.OSLinux:   100,
		models.OSWindows: 200,
		models.OSMacOS:   300,
	}[t.OS]
	if t.Bits == 32 {
		base += 1
	}
	return base
}

// Expand deduplicates and orders the requested targets, then verifies the
// canadian-cross precondition: a windows target's linux counterpart must
// either be part of this run or already published under deployDir. This
// is a hard check, not an auto-add.
func Expand(requested []models.TargetSpec, deployDir string) ([]models.TargetSpec, error) {
	seen := make(map[models.TargetSpec]bool, len(requested))
	ordered := make([]models.TargetSpec, 0, len(requested))
	for _, t := range requested {
		if seen[t] {
			continue
		}
		seen[t] = true
		ordered = append(ordered, t)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return priority(ordered[i]) < priority(ordered[j])
	})

	for _, t := range ordered {
		dep, ok := t.DependsOn()
		if !ok {
			continue
		}
		if seen[dep] || workspace.TargetCompleted(deployDir, dep) {
			continue
		}
		return nil, fmt.Errorf("%w: %s requires a completed %s toolchain",
			ErrUnsatisfiableDependency, t.ID(), dep.ID())
	}

	return ordered, nil
}
