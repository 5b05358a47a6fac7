package planner

import (
	"path/filepath"
	"sort"
	"strings"
)

// Decide chooses what happens to a SOURCE file after its claim. claimed is
// the claim outcome and owner the path that owns the fingerprint otherwise.
func Decide(claimed bool, source, owner string, dryRun bool) Decision {
	if claimed {
		return DecisionCopy
	}
	if SameFileName(source, owner) && !dryRun {
		return DecisionSuppressed
	}
	return DecisionDuplicate
}

// SameFileName compares the final path elements, trimmed and case-sensitive.
func SameFileName(a, b string) bool {
	return strings.TrimSpace(filepath.Base(a)) == strings.TrimSpace(filepath.Base(b))
}

func sortCopies(items []CopyPlan) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Source < items[j].Source
	})
}

func sortDuplicates(items []DuplicateMatch) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Source < items[j].Source
	})
}

func sortCollisions(items []CollisionRecord) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Existing != items[j].Existing {
			return items[i].Existing < items[j].Existing
		}
		return items[i].Current < items[j].Current
	})
}

func sortFailures(items []Failure) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Path != items[j].Path {
			return items[i].Path < items[j].Path
		}
		return items[i].Phase < items[j].Phase
	})
}
