package planner

import (
	"fmt"

	"github.com/yuya-takeyama/sumcompare/internal/checksum"
	"github.com/yuya-takeyama/sumcompare/internal/registry"
)

// Match is the decision for one SOURCE file.
type Match struct {
	Source      string
	Fingerprint checksum.Fingerprint
	Size        int64
	Decision    Decision
	// Owner is the path that owned the fingerprint before this file; empty
	// when Decision is DecisionCopy.
	Owner string
	// Destination is set only when Decision is DecisionCopy.
	Destination string
}

// Matcher fingerprints SOURCE files, claims their content and decides what
// to do with each. A Matcher is shared by all workers of a run.
type Matcher struct {
	Algorithm    checksum.Algorithm
	Registry     *registry.Registry
	Resolver     PathResolver
	Destinations *DestinationSet
	DryRun       bool
}

// Match runs fingerprint, claim and decision for path. Only the claim
// touches shared state.
func (m *Matcher) Match(path string) (Match, error) {
	fp, size, err := checksum.CalculateFile(m.Algorithm, path)
	if err != nil {
		return Match{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}

	owner := m.Registry.Claim(fp, path)
	match := Match{
		Source:      path,
		Fingerprint: fp,
		Size:        size,
		Decision:    Decide(owner.Claimed, path, owner.Path, m.DryRun),
	}
	if !owner.Claimed {
		match.Owner = owner.Path
		return match, nil
	}

	dest := m.Resolver.Resolve(path)
	if m.Destinations != nil {
		dest = m.Destinations.Reserve(dest, fp)
	}
	match.Destination = dest
	return match, nil
}

// Plan converts a DecisionCopy match into a CopyPlan.
func (m Match) Plan() CopyPlan {
	return CopyPlan{
		Source:      m.Source,
		Destination: m.Destination,
		Fingerprint: m.Fingerprint,
		Size:        m.Size,
	}
}

// Record adds a non-copy decision to results. Copy decisions are recorded
// by the caller once the copy outcome is known.
func (m Match) Record(results *Results) {
	switch m.Decision {
	case DecisionDuplicate:
		results.AddDuplicate(DuplicateMatch{Source: m.Source, Existing: m.Owner, Fingerprint: m.Fingerprint})
	case DecisionSuppressed:
		results.AddSuppressed()
	}
}
