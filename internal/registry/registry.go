// Package registry records which path owns each content fingerprint during a
// single run.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/yuya-takeyama/sumcompare/internal/checksum"
)

// Owner is the outcome of a Claim.
type Owner struct {
	// Path is the owning path: the candidate when Claimed is true, otherwise
	// the path that claimed the fingerprint first.
	Path    string
	Claimed bool
}

// Registry maps fingerprints to their owning path. An entry, once written,
// is never replaced. The zero value is ready to use.
type Registry struct {
	owners sync.Map // checksum.Fingerprint -> string
	size   atomic.Int64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Claim atomically records candidate as the owner of fp unless another path
// already owns it. Exactly one concurrent caller per fingerprint observes
// Claimed == true.
func (r *Registry) Claim(fp checksum.Fingerprint, candidate string) Owner {
	actual, loaded := r.owners.LoadOrStore(fp, candidate)
	if !loaded {
		r.size.Add(1)
		return Owner{Path: candidate, Claimed: true}
	}
	return Owner{Path: actual.(string), Claimed: false}
}

// Peek returns the owner of fp without claiming it.
func (r *Registry) Peek(fp checksum.Fingerprint) (string, bool) {
	v, ok := r.owners.Load(fp)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Len is the number of claimed fingerprints.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// Range calls fn for every entry, in no particular order, until fn returns false.
func (r *Registry) Range(fn func(fp checksum.Fingerprint, owner string) bool) {
	r.owners.Range(func(k, v any) bool {
		return fn(k.(checksum.Fingerprint), v.(string))
	})
}

// Owners returns every owning path sorted.
func (r *Registry) Owners() []string {
	var out []string
	r.Range(func(_ checksum.Fingerprint, owner string) bool {
		out = append(out, owner)
		return true
	})
	sort.Strings(out)
	return out
}
