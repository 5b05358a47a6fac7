// Package resolver maps a SOURCE path to its destination under TARGET.
package resolver

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/djherbis/times"
	"github.com/rs/zerolog"

	"github.com/yuya-takeyama/sumcompare/internal/media"
)

// DateSource selects which filesystem timestamp feeds a date bucket.
type DateSource string

const (
	DateModified DateSource = "modified"
	DateCreated  DateSource = "created"
	DateAccessed DateSource = "accessed"
)

// ParseDateSource resolves a case-insensitive date source name.
func ParseDateSource(s string) (DateSource, error) {
	switch DateSource(strings.ToLower(strings.TrimSpace(s))) {
	case DateModified, "":
		return DateModified, nil
	case DateCreated:
		return DateCreated, nil
	case DateAccessed:
		return DateAccessed, nil
	}
	return "", fmt.Errorf("unknown date source %q (want modified, created or accessed)", s)
}

// DatePattern selects how a date bucket is laid out.
type DatePattern string

const (
	YearMonth         DatePattern = "year-month"
	YearMonthSlash    DatePattern = "year-month-slash"
	YearMonthDay      DatePattern = "year-month-day"
	YearMonthDaySlash DatePattern = "year-month-day-slash"
	YearOnly          DatePattern = "year"
	YearQuarter       DatePattern = "year-quarter"
)

// DatePatterns lists every supported pattern.
func DatePatterns() []DatePattern {
	return []DatePattern{YearMonth, YearMonthSlash, YearMonthDay, YearMonthDaySlash, YearOnly, YearQuarter}
}

// ParseDatePattern resolves a case-insensitive pattern name.
func ParseDatePattern(s string) (DatePattern, error) {
	n := DatePattern(strings.ToLower(strings.TrimSpace(s)))
	if n == "" {
		return YearMonth, nil
	}
	for _, p := range DatePatterns() {
		if p == n {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown date pattern %q", s)
}

// Format renders t as a bucket path using forward slashes.
func (p DatePattern) Format(t time.Time) string {
	switch p {
	case YearMonthSlash:
		return t.Format("2006/01")
	case YearMonthDay:
		return t.Format("2006-01-02")
	case YearMonthDaySlash:
		return t.Format("2006/01/02")
	case YearOnly:
		return t.Format("2006")
	case YearQuarter:
		return fmt.Sprintf("%04d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	default:
		return t.Format("2006-01")
	}
}

// Options configures a Resolver.
type Options struct {
	SourceRoot    string
	TargetRoot    string
	KeepStructure bool
	DateFolders   bool
	DateSource    DateSource
	DatePattern   DatePattern
	// UseMetadata reads the content-creation date of media files through
	// Extractor before falling back to filesystem timestamps.
	UseMetadata bool
	Extractor   media.DateExtractor
	Logger      zerolog.Logger
}

// Resolver computes destination paths. It holds no mutable state.
type Resolver struct {
	opts Options
	stat func(string) (times.Timespec, error)
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.DateSource == "" {
		opts.DateSource = DateModified
	}
	if opts.DatePattern == "" {
		opts.DatePattern = YearMonth
	}
	return &Resolver{opts: opts, stat: times.Stat}
}

// Resolve returns the destination for sourcePath. Calling it twice for the
// same path on an unchanged tree yields the same result. It never fails:
// when no timestamp can be read the file is placed as if date folders were
// disabled.
func (r *Resolver) Resolve(sourcePath string) string {
	name := r.relativeOrName(sourcePath)

	if r.opts.DateFolders {
		if t, ok := r.Timestamp(sourcePath); ok {
			bucket := filepath.FromSlash(r.opts.DatePattern.Format(t))
			return filepath.Join(r.opts.TargetRoot, bucket, name)
		}
	}
	return filepath.Join(r.opts.TargetRoot, name)
}

func (r *Resolver) relativeOrName(sourcePath string) string {
	if r.opts.KeepStructure {
		rel, err := filepath.Rel(r.opts.SourceRoot, sourcePath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return rel
		}
	}
	return filepath.Base(sourcePath)
}

// Timestamp picks the date used for bucketing: embedded media metadata when
// enabled, then the configured filesystem time, then the modification time.
func (r *Resolver) Timestamp(path string) (time.Time, bool) {
	if r.opts.UseMetadata && r.opts.Extractor != nil && media.IsMediaFile(path) {
		t, err := r.opts.Extractor.CreationDate(path)
		if err == nil {
			return t, true
		}
		r.opts.Logger.Debug().Err(err).Str("path", path).Msg("Metadata date unavailable, using filesystem time")
	}

	ts, err := r.stat(path)
	if err != nil {
		return time.Time{}, false
	}

	switch r.opts.DateSource {
	case DateCreated:
		if ts.HasBirthTime() {
			return ts.BirthTime(), true
		}
	case DateAccessed:
		return ts.AccessTime(), true
	}
	return ts.ModTime(), true
}
