// Package report persists a finished run. The output format follows the
// extension of the report path: SQLite for .db, .sqlite and .sqlite3, JSON
// for .json.
package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yuya-takeyama/sumcompare/pkg/planner"
)

// Writer stores one run report.
type Writer interface {
	Write(ctx context.Context, r *planner.Report) error
}

// NewWriter picks a Writer for path.
func NewWriter(path string) (Writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return &SQLiteWriter{Path: path}, nil
	case ".json":
		return &JSONWriter{Path: path}, nil
	}
	return nil, fmt.Errorf("unsupported report format %q", filepath.Ext(path))
}
