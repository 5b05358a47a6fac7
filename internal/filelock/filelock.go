// Package filelock keeps two runs from writing into the same TARGET at once.
package filelock

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"

	"github.com/yuya-takeyama/sumcompare/internal/errors"
)

// FileLock wraps a flock file lock.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// NewFileLock creates a lock backed by the file at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// ForTarget returns the lock guarding target. The lock file lives in the XDG
// runtime directory, never inside target itself, so taking the lock does not
// modify the tree being synced.
func ForTarget(target string) (*FileLock, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}
	sum := sha1.Sum([]byte(abs))
	path, err := xdg.RuntimeFile(filepath.Join("sumcompare", "locks", hex.EncodeToString(sum[:8])+".lock"))
	if err != nil {
		return nil, fmt.Errorf("resolve lock path: %w", err)
	}
	return NewFileLock(path), nil
}

// Path is the lock file location.
func (fl *FileLock) Path() string {
	return fl.path
}

// TryLock attempts to acquire an exclusive lock without blocking. A lock held
// elsewhere yields an ErrTargetLocked error.
func (fl *FileLock) TryLock() error {
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock on %s: %w", fl.path, err)
	}
	if !acquired {
		return errors.Newf(errors.ErrTargetLocked, "another run holds %s", fl.path).WithDetail("lock", fl.path)
	}
	return nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", fl.path, err)
	}
	return nil
}
