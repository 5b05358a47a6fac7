package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuya-takeyama/sumcompare/internal/checksum"
)

// DestinationSet hands out destination paths so that no two copies in a run
// share one and no existing file under TARGET is overwritten.
type DestinationSet struct {
	taken sync.Map // string -> struct{}
	// exists reports whether something already occupies path on disk.
	exists func(path string) bool
}

// NewDestinationSet creates an empty set.
func NewDestinationSet() *DestinationSet {
	return &DestinationSet{exists: pathExists}
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Reserve returns dest when it is free, otherwise the first free name of the
// form "name_<8 hex of fp>.ext", then "name_<8 hex>_<n>.ext".
func (d *DestinationSet) Reserve(dest string, fp checksum.Fingerprint) string {
	if d.try(dest) {
		return dest
	}

	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(dest, ext)
	tag := fp.Hex()
	if len(tag) > 8 {
		tag = tag[:8]
	}

	candidate := fmt.Sprintf("%s_%s%s", base, tag, ext)
	for n := 1; !d.try(candidate); n++ {
		candidate = fmt.Sprintf("%s_%s_%d%s", base, tag, n, ext)
	}
	return candidate
}

func (d *DestinationSet) try(path string) bool {
	if _, loaded := d.taken.LoadOrStore(path, struct{}{}); loaded {
		return false
	}
	// the entry stays reserved either way so later callers skip it quickly
	return !d.exists(path)
}
