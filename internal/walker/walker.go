package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yuya-takeyama/sumcompare/internal/logging"
)

// FileInfo represents a regular file found under a root
type FileInfo struct {
	Path    string // Absolute path
	RelPath string // Relative path from root
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// Options controls which entries a Walker reports.
type Options struct {
	// Excludes are doublestar patterns matched against slash-separated
	// relative paths. Patterns ending in "/" prune whole directories.
	Excludes []string
	// SkipDirs are absolute directories that are never descended into.
	SkipDirs []string
}

// Walker enumerates regular files under a root directory
type Walker struct {
	root     string
	excludes []string
	skipDirs map[string]struct{}
	skipped  atomic.Int64
}

// NewWalker creates a new file walker
func NewWalker(root string, opts Options) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	skip := make(map[string]struct{}, len(opts.SkipDirs))
	for _, d := range opts.SkipDirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		if abs == absRoot {
			continue
		}
		skip[abs] = struct{}{}
	}

	return &Walker{
		root:     absRoot,
		excludes: opts.Excludes,
		skipDirs: skip,
	}, nil
}

// Root returns the absolute root directory.
func (w *Walker) Root() string {
	return w.root
}

// Skipped returns how many entries were skipped because of I/O errors.
func (w *Walker) Skipped() int64 {
	return w.skipped.Load()
}

// Walk walks the tree depth-first and returns every regular file sorted by
// path. Entries that cannot be read are logged and skipped; only a failure
// to read the root itself is returned.
func (w *Walker) Walk(ctx context.Context) ([]FileInfo, error) {
	logger := logging.GetLogger("walker")
	var files []FileInfo

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == w.root {
				return err
			}
			w.skipped.Add(1)
			logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != w.root && w.skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}

		fi, ok := w.fileInfo(path, d)
		if ok {
			files = append(files, fi)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	sortFiles(files)
	return files, nil
}

// WalkParallel is Walk with directory reads fanned out over workers
// goroutines. It returns the same set of files in the same order.
func (w *Walker) WalkParallel(ctx context.Context, workers int) ([]FileInfo, error) {
	if workers <= 1 {
		return w.Walk(ctx)
	}
	if _, err := os.ReadDir(w.root); err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	logger := logging.GetLogger("walker")

	var (
		files   []FileInfo
		filesMu sync.Mutex
		dirWg   sync.WaitGroup
		poolWg  sync.WaitGroup
	)
	dirQueue := make(chan string, 1000)

	poolWg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer poolWg.Done()

			for dir := range dirQueue {
				if ctx.Err() != nil {
					dirWg.Done()
					continue
				}

				entries, err := os.ReadDir(dir)
				if err != nil {
					w.skipped.Add(1)
					logger.Warn().Err(err).Str("path", dir).Msg("Skipping unreadable directory")
					dirWg.Done()
					continue
				}

				var local []FileInfo
				for _, entry := range entries {
					full := filepath.Join(dir, entry.Name())

					if entry.IsDir() {
						if w.skipDir(full) {
							continue
						}
						dirWg.Add(1)
						select {
						case dirQueue <- full:
						default:
							// queue full; hand off without blocking this worker
							go func(p string) { dirQueue <- p }(full)
						}
						continue
					}

					if fi, ok := w.fileInfo(full, entry); ok {
						local = append(local, fi)
					}
				}

				if len(local) > 0 {
					filesMu.Lock()
					files = append(files, local...)
					filesMu.Unlock()
				}
				dirWg.Done()
			}
		}()
	}

	dirWg.Add(1)
	dirQueue <- w.root

	go func() {
		dirWg.Wait()
		close(dirQueue)
	}()

	poolWg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	sortFiles(files)
	return files, nil
}

// fileInfo builds a FileInfo for a non-directory entry. Symlinks are
// resolved and kept only when they point at a regular file; they are never
// followed into directories.
func (w *Walker) fileInfo(path string, d fs.DirEntry) (FileInfo, bool) {
	relPath, err := filepath.Rel(w.root, path)
	if err != nil {
		w.skipped.Add(1)
		return FileInfo{}, false
	}

	if w.isExcluded(filepath.ToSlash(relPath)) {
		return FileInfo{}, false
	}

	var info fs.FileInfo
	if d.Type()&fs.ModeSymlink != 0 {
		info, err = os.Stat(path)
	} else {
		info, err = d.Info()
	}
	if err != nil {
		w.skipped.Add(1)
		logger := logging.GetLogger("walker")
		logger.Warn().Err(err).Str("path", path).Msg("Skipping entry")
		return FileInfo{}, false
	}
	if !info.Mode().IsRegular() {
		return FileInfo{}, false
	}

	return FileInfo{
		Path:    path,
		RelPath: relPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    info.Mode(),
	}, true
}

func (w *Walker) skipDir(path string) bool {
	if _, ok := w.skipDirs[path]; ok {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return w.isExcluded(filepath.ToSlash(rel) + "/")
}

// isExcluded checks if a path matches any exclude pattern. A trailing slash
// on path marks it as a directory.
func (w *Walker) isExcluded(path string) bool {
	isDir := strings.HasSuffix(path, "/")
	path = strings.TrimSuffix(path, "/")

	for _, pattern := range w.excludes {
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			parts := strings.Split(path, "/")
			last := len(parts)
			if !isDir {
				last-- // the final element is a file name
			}
			for i := 1; i <= last; i++ {
				if matched, _ := doublestar.Match(dirPattern, strings.Join(parts[:i], "/")); matched {
					return true
				}
			}
			continue
		}
		if isDir {
			continue
		}
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

// IsWithin reports whether path is dir itself or lies beneath it.
func IsWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func sortFiles(files []FileInfo) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
}
