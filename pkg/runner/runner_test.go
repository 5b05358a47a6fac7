package runner

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/sumcompare/internal/backup"
	"github.com/yuya-takeyama/sumcompare/internal/config"
	"github.com/yuya-takeyama/sumcompare/internal/errors"
	"github.com/yuya-takeyama/sumcompare/internal/filelock"
	"github.com/yuya-takeyama/sumcompare/internal/walker"
	"github.com/yuya-takeyama/sumcompare/pkg/planner"
)

type mockBackupper struct {
	backupFunc func(ctx context.Context, root string, files []walker.FileInfo) (backup.Result, error)
}

func (m *mockBackupper) Backup(ctx context.Context, root string, files []walker.FileInfo) (backup.Result, error) {
	return m.backupFunc(ctx, root, files)
}

type mockReporter struct {
	mu      sync.Mutex
	reports []*planner.Report
	err     error
}

func (m *mockReporter) Write(_ context.Context, r *planner.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return m.err
}

func isolateRuntimeDir(t *testing.T) {
	t.Helper()
	t.Cleanup(xdg.Reload)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	xdg.Reload()
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return out
}

func loadConfig(t *testing.T, src, dst string, overrides map[string]interface{}) *config.Config {
	t.Helper()
	o := map[string]interface{}{"source": src, "target": dst}
	for k, v := range overrides {
		o[k] = v
	}
	cfg, err := config.Load(config.LoadOptions{Environ: []string{}, Overrides: o})
	require.NoError(t, err)
	return cfg
}

func TestRunCopiesNewContent(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{
		"new.jpg":      "fresh",
		"same.jpg":     "known",
		"renamed.jpg":  "stored",
		"sub/deep.png": "deep",
	})
	writeTree(t, dst, map[string]string{
		"same.jpg":   "known",
		"stored.jpg": "stored",
	})

	rep := &mockReporter{}
	r := New(Options{Config: loadConfig(t, src, dst, nil), Reporter: rep})
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, planner.StateDone, r.State())
	assert.Equal(t, planner.StateDone, report.Summary.State)
	assert.Equal(t, 4, report.Summary.SourceFiles)
	assert.Equal(t, 2, report.Summary.TargetFiles)
	assert.Equal(t, 2, report.Summary.Copied)
	assert.Equal(t, int64(len("fresh")+len("deep")), report.Summary.BytesCopied)
	assert.Equal(t, 1, report.Summary.Duplicates)
	assert.Equal(t, 1, report.Summary.Suppressed)
	assert.Zero(t, report.Summary.Errors)

	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, filepath.Join(src, "renamed.jpg"), report.Duplicates[0].Source)
	assert.Equal(t, filepath.Join(dst, "stored.jpg"), report.Duplicates[0].Existing)

	assert.Equal(t, map[string]string{
		"same.jpg":   "known",
		"stored.jpg": "stored",
		"new.jpg":    "fresh",
		"deep.png":   "deep",
	}, readTree(t, dst))

	require.Len(t, rep.reports, 1)
	assert.Equal(t, r.RunID(), rep.reports[0].RunID)
	assert.Equal(t, planner.StateDone, rep.reports[0].Summary.State)
}

func TestRunKeepStructure(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"2023/a.jpg": "a", "2024/b.jpg": "b"})

	cfg := loadConfig(t, src, dst, map[string]interface{}{"keep_structure": true})
	_, err := New(Options{Config: cfg}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"2023/a.jpg": "a", "2024/b.jpg": "b"}, readTree(t, dst))
}

func TestRunOneCopyAcrossPoolSizes(t *testing.T) {
	for _, size := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("pool=%d", size), func(t *testing.T) {
			isolateRuntimeDir(t)
			src, dst := t.TempDir(), t.TempDir()
			files := map[string]string{}
			for i := 0; i < 25; i++ {
				files[fmt.Sprintf("dir%d/copy%02d.jpg", i%3, i)] = "identical"
			}
			writeTree(t, src, files)

			cfg := loadConfig(t, src, dst, map[string]interface{}{"concurrency": size})
			report, err := New(Options{Config: cfg}).Run(context.Background())
			require.NoError(t, err)

			assert.Len(t, report.Copies, 1)
			assert.Len(t, report.Duplicates, 24)
			for _, d := range report.Duplicates {
				assert.Equal(t, report.Copies[0].Source, d.Existing)
			}
			assert.Len(t, readTree(t, dst), 1)
		})
	}
}

func TestRunMixedTreeAcrossPoolSizes(t *testing.T) {
	for _, size := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("pool=%d", size), func(t *testing.T) {
			isolateRuntimeDir(t)
			src, dst := t.TempDir(), t.TempDir()

			target := map[string]string{
				"stored.jpg": "stored",
				"taken.jpg":  "target-taken",
			}
			files := map[string]string{
				"renamed.jpg": "stored",
				"taken.jpg":   "source-taken",
				"a/twin.jpg":  "twin-a",
				"b/twin.jpg":  "twin-b",
			}
			for i := 0; i < 40; i++ {
				files[fmt.Sprintf("burst%d/shot%02d.jpg", i%4, i)] = "shared"
			}
			for i := 0; i < 5; i++ {
				name := fmt.Sprintf("other%d.jpg", i)
				files[name] = "other" + name
				target[name] = "other" + name
			}
			for i := 0; i < 37; i++ {
				files[fmt.Sprintf("unique/u%02d.png", i)] = fmt.Sprintf("unique-%d", i)
			}
			writeTree(t, src, files)
			writeTree(t, dst, target)

			cfg := loadConfig(t, src, dst, map[string]interface{}{"concurrency": size})
			report, err := New(Options{Config: cfg}).Run(context.Background())
			require.NoError(t, err)

			// shared once, 37 unique, both twins and the clashing taken.jpg
			assert.Equal(t, 41, report.Summary.Copied)
			// 39 extra shared shots and renamed.jpg
			assert.Equal(t, 40, report.Summary.Duplicates)
			assert.Equal(t, 5, report.Summary.Suppressed)
			assert.Zero(t, report.Summary.Errors)

			tree := readTree(t, dst)
			assert.Len(t, tree, len(target)+41)
			seen := map[string]string{}
			for path, content := range tree {
				if prev, ok := seen[content]; ok {
					t.Errorf("content %q stored twice: %s and %s", content, prev, path)
				}
				seen[content] = path
			}
			assert.Equal(t, "target-taken", tree["taken.jpg"], "existing file is never overwritten")
			assert.Contains(t, seen, "source-taken")
			assert.Contains(t, seen, "twin-a")
			assert.Contains(t, seen, "twin-b")
		})
	}
}

func TestRunLogsPhaseTiming(t *testing.T) {
	isolateRuntimeDir(t)
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.jpg": "a"})

	var buf bytes.Buffer
	log := zerolog.New(zerolog.SyncWriter(&buf))
	_, err := New(Options{Config: loadConfig(t, src, dst, nil), Log: log}).Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	for _, phase := range []string{PhaseScan, PhaseProcess} {
		assert.Contains(t, out, fmt.Sprintf(`"operation":"%s","message":"Operation started"`, phase))
		assert.Contains(t, out, fmt.Sprintf(`"operation":"%s","duration":`, phase))
	}
	assert.NotContains(t, out, `"operation":"backup"`)
}

func TestRunDryRunLeavesTargetUntouched(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.jpg": "a", "b.jpg": "b", "c.jpg": "c", "dup.jpg": "a"})
	writeTree(t, dst, map[string]string{"c.jpg": "c"})
	before := readTree(t, dst)

	dry, err := New(Options{Config: loadConfig(t, src, dst, map[string]interface{}{"dry_run": true, "concurrency": 1})}).
		Run(context.Background())
	require.NoError(t, err)
	assert.True(t, dry.Summary.DryRun)
	assert.Equal(t, before, readTree(t, dst))

	live, err := New(Options{Config: loadConfig(t, src, dst, map[string]interface{}{"concurrency": 1})}).
		Run(context.Background())
	require.NoError(t, err)

	destinations := func(r *planner.Report) []string {
		var out []string
		for _, c := range r.Copies {
			out = append(out, c.Destination)
		}
		sort.Strings(out)
		return out
	}
	assert.Equal(t, destinations(dry), destinations(live))
	// A same-name match is reported in a dry run and suppressed in a live one.
	assert.Equal(t, dry.Summary.Duplicates, live.Summary.Duplicates+live.Summary.Suppressed)
	assert.Equal(t, 1, live.Summary.Suppressed)
}

func TestRunSelfCheck(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.jpg": "x", "b/a-copy.jpg": "x", "c.jpg": "y"})
	before := readTree(t, src)

	cfg := loadConfig(t, src, "", map[string]interface{}{"self_check": true})
	report, err := New(Options{Config: cfg}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Summary.TargetFiles)
	assert.Empty(t, report.Copies)
	require.Len(t, report.Collisions, 1)
	assert.Equal(t, filepath.Join(src, "b", "a-copy.jpg"), report.Collisions[0].Current)
	assert.Equal(t, filepath.Join(src, "a.jpg"), report.Collisions[0].Existing)
	assert.Equal(t, before, readTree(t, src))
}

func TestRunTargetNestedInSource(t *testing.T) {
	isolateRuntimeDir(t)
	src := t.TempDir()
	dst := filepath.Join(src, "library")
	writeTree(t, src, map[string]string{"a.jpg": "a", "library/old.jpg": "old"})

	report, err := New(Options{Config: loadConfig(t, src, dst, nil)}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.SourceFiles)
	assert.Equal(t, 1, report.Summary.TargetFiles)
	assert.Equal(t, map[string]string{"old.jpg": "old", "a.jpg": "a"}, readTree(t, dst))
}

func TestRunValidationAborts(t *testing.T) {
	src := t.TempDir()
	rep := &mockReporter{}
	r := New(Options{Config: loadConfig(t, src, filepath.Join(src, "missing"), nil), Reporter: rep})

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 94, errors.ExitStatus(err))
	assert.Equal(t, planner.StateAborted, r.State())
	assert.Equal(t, planner.StateAborted, report.Summary.State)
	assert.Empty(t, rep.reports, "no report before any I/O")
}

func TestRunUnknownAlgorithm(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	_, err := New(Options{Config: loadConfig(t, src, dst, map[string]interface{}{"algorithm": "crc64"})}).
		Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 98, errors.ExitStatus(err))
}

func TestRunTargetLocked(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.jpg": "a"})

	lock, err := filelock.ForTarget(dst)
	require.NoError(t, err)
	require.NoError(t, lock.TryLock())
	defer lock.Unlock()

	r := New(Options{Config: loadConfig(t, src, dst, nil)})
	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 75, errors.ExitStatus(err))
	assert.Equal(t, planner.StateFailed, r.State())
	assert.Equal(t, planner.StateFailed, report.Summary.State)
	assert.Empty(t, readTree(t, dst))

	_, err = New(Options{Config: loadConfig(t, src, dst, map[string]interface{}{"dry_run": true})}).
		Run(context.Background())
	assert.NoError(t, err, "dry run does not take the lock")
}

func TestRunCancelled(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.jpg": "a", "b.jpg": "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := &mockReporter{}
	r := New(Options{Config: loadConfig(t, src, dst, nil), Reporter: rep})
	report, err := r.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCancelled))
	assert.Equal(t, 130, errors.ExitStatus(err))
	assert.Equal(t, planner.StateCancelled, r.State())
	assert.Equal(t, planner.StateCancelled, report.Summary.State)
	assert.Empty(t, readTree(t, dst))
	require.Len(t, rep.reports, 1, "partial report is still written")
	assert.Equal(t, planner.StateCancelled, rep.reports[0].Summary.State)
}

func TestRunPartialFailure(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"ok.jpg": "ok", "blocked/x.jpg": "x"})
	writeTree(t, dst, map[string]string{"blocked": "a file where a directory is needed"})

	cfg := loadConfig(t, src, dst, map[string]interface{}{"keep_structure": true})
	report, err := New(Options{Config: cfg}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, errors.ExitStatus(err))
	assert.Equal(t, planner.StateDone, report.Summary.State)

	assert.Equal(t, 1, report.Summary.Copied)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, filepath.Join(src, "blocked", "x.jpg"), report.Failures[0].Path)
	assert.Equal(t, PhaseCopy, report.Failures[0].Phase)
}

func TestRunBackup(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.jpg": "a", "b/c.jpg": "c"})

	var gotRoot string
	var gotFiles int
	b := &mockBackupper{backupFunc: func(_ context.Context, root string, files []walker.FileInfo) (backup.Result, error) {
		gotRoot, gotFiles = root, len(files)
		assert.Empty(t, readTree(t, dst), "backup runs before any copy")
		return backup.Result{Path: "/tmp/archive.zip", Files: len(files)}, nil
	}}

	cfg := loadConfig(t, src, dst, map[string]interface{}{"backup.enabled": true})
	report, err := New(Options{Config: cfg, Backupper: b}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, src, gotRoot)
	assert.Equal(t, 2, gotFiles)
	assert.Equal(t, 2, report.Summary.SourceFiles)
	assert.Equal(t, 2, report.Summary.Copied)
}

func TestRunBackupFailure(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.jpg": "a"})

	b := &mockBackupper{backupFunc: func(context.Context, string, []walker.FileInfo) (backup.Result, error) {
		return backup.Result{}, stderrors.New("disk full")
	}}

	cfg := loadConfig(t, src, dst, map[string]interface{}{"backup.enabled": true})
	report, err := New(Options{Config: cfg, Backupper: b}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, errors.ExitStatus(err))
	assert.Equal(t, planner.StateFailed, report.Summary.State)
	assert.Empty(t, readTree(t, dst))
}

func TestRunReportFailure(t *testing.T) {
	isolateRuntimeDir(t)
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.jpg": "a"})

	rep := &mockReporter{err: stderrors.New("read-only database")}
	_, err := New(Options{Config: loadConfig(t, src, dst, nil), Reporter: rep}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 5, errors.ExitStatus(err))
	assert.Equal(t, map[string]string{"a.jpg": "a"}, readTree(t, dst))
}
