package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/yuya-takeyama/sumcompare/internal/checksum"
	"github.com/yuya-takeyama/sumcompare/pkg/planner"
)

// ErrVerifyMismatch means the bytes written differ from the planned fingerprint.
var ErrVerifyMismatch = errors.New("copied content does not match source fingerprint")

// ErrDestinationExists means something appeared at the destination after it
// was reserved.
var ErrDestinationExists = errors.New("destination already exists")

type Options struct {
	DryRun        bool
	PreserveTimes bool
	// Verify re-fingerprints the bytes as they are written and fails the
	// copy when they differ from the plan.
	Verify    bool
	Algorithm checksum.Algorithm
	// Move removes the source once its copy is in place.
	Move   bool
	Logger zerolog.Logger
}

type Executor struct {
	opts Options
}

func NewExecutor(opts Options) *Executor {
	return &Executor{opts: opts}
}

type Result struct {
	Plan    planner.CopyPlan
	Written int64
	DryRun  bool
	Error   error
}

// Copy materializes plan. In dry-run mode nothing is touched. Errors are
// returned in the Result and never leave a partial file at the destination.
func (e *Executor) Copy(plan planner.CopyPlan) Result {
	if e.opts.DryRun {
		e.opts.Logger.Debug().Str("source", plan.Source).Str("destination", plan.Destination).Msg("Dry run copy")
		return Result{Plan: plan, DryRun: true}
	}

	n, err := e.copyFile(plan)
	if err != nil {
		return Result{Plan: plan, Written: n, Error: err}
	}

	if e.opts.Move {
		if err := os.Remove(plan.Source); err != nil {
			return Result{Plan: plan, Written: n, Error: fmt.Errorf("remove source after copy: %w", err)}
		}
	}

	e.opts.Logger.Debug().Str("source", plan.Source).Str("destination", plan.Destination).Int64("bytes", n).Msg("Copied")
	return Result{Plan: plan, Written: n}
}

func (e *Executor) copyFile(plan planner.CopyPlan) (int64, error) {
	src, err := os.Open(plan.Source)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}

	dir := filepath.Dir(plan.Destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Temp file lives next to the destination so the rename stays on one filesystem
	tempFile, err := os.CreateTemp(dir, ".sumcompare-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	var reader io.Reader = src
	var tee *checksum.TeeReader
	if e.opts.Verify {
		tee = checksum.NewTeeReader(src, e.opts.Algorithm)
		reader = tee
	}

	buf := checksum.GetBuffer()
	n, err := io.CopyBuffer(struct{ io.Writer }{tempFile}, struct{ io.Reader }{reader}, *buf)
	checksum.PutBuffer(buf)
	if err != nil {
		return n, fmt.Errorf("failed to copy: %w", err)
	}

	if tee != nil {
		got, err := tee.Fingerprint()
		if err != nil {
			return n, err
		}
		if got != plan.Fingerprint {
			return n, fmt.Errorf("%w: want %s, got %s", ErrVerifyMismatch, plan.Fingerprint.Hex(), got.Hex())
		}
	}

	if err := tempFile.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tempPath, info.Mode().Perm()); err != nil {
		return n, fmt.Errorf("failed to set permissions: %w", err)
	}

	if e.opts.PreserveTimes {
		if err := os.Chtimes(tempPath, info.ModTime(), info.ModTime()); err != nil {
			return n, fmt.Errorf("failed to preserve timestamps: %w", err)
		}
	}

	if _, err := os.Lstat(plan.Destination); err == nil {
		return n, fmt.Errorf("%w: %s", ErrDestinationExists, plan.Destination)
	}

	if err := os.Rename(tempPath, plan.Destination); err != nil {
		return n, fmt.Errorf("failed to rename temp file: %w", err)
	}

	tempFile = nil
	return n, nil
}
