package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/yuya-takeyama/sumcompare/internal/errors"
	"github.com/yuya-takeyama/sumcompare/pkg/planner"
)

func isolateXDG(t *testing.T) {
	t.Helper()
	t.Cleanup(xdg.Reload)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_DIRS", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	xdg.Reload()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sumcompare dev"))
}

func TestConfigCommand(t *testing.T) {
	isolateXDG(t)
	file := filepath.Join(t.TempDir(), "sumcompare.yaml")
	require.NoError(t, os.WriteFile(file, []byte("concurrency: 3\nalgorithm: sha1\n"), 0o644))

	out, err := execute(t, "config", "--config", file, "-z", "md5", "--date-pattern", "year", "/in", "/out")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, yamlv3.Unmarshal([]byte(out), &got))
	assert.Equal(t, "md5", got["algorithm"], "flag beats file")
	assert.Equal(t, 3, got["concurrency"], "unset flag keeps file value")
	assert.Equal(t, "/in", got["source"])
	assert.Equal(t, "/out", got["target"])
	assert.Equal(t, "year", got["date_folders"].(map[string]interface{})["pattern"])
}

func TestConfigCommandUsesXDGConfig(t *testing.T) {
	isolateXDG(t)
	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "sumcompare")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("keep_structure: true\n"), 0o644))

	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "keep_structure: true")
}

func TestCollectOverridesOnlyChangedFlags(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--dryrun", "--exclude", "*.tmp,.git/", "--concurrency", "4", "--backup-s3-uri", "s3://b/p"}))

	got := collectOverrides(cmd.Flags())
	assert.Equal(t, map[string]interface{}{
		"dry_run":       true,
		"exclude":       []string{"*.tmp", ".git/"},
		"concurrency":   4,
		"backup.s3_uri": "s3://b/p",
	}, got)
}

func TestRunCommand(t *testing.T) {
	isolateXDG(t)
	src, dst := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.jpg"), []byte("photo"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.jpg"), []byte("photo"), 0o644))
	report := filepath.Join(t.TempDir(), "run.json")

	out, err := execute(t, "--quiet", "--concurrency", "1", "--report", "--report-path", report, src, dst)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dst, "a.jpg"))
	assert.NoFileExists(t, filepath.Join(dst, "b.jpg"))
	assert.Contains(t, out, "copy: "+filepath.Join(src, "a.jpg"))
	assert.Contains(t, out, "duplicate: "+filepath.Join(src, "b.jpg"))
	assert.Contains(t, out, "Summary")
	assert.FileExists(t, report)
}

func TestRunCommandExitStatus(t *testing.T) {
	isolateXDG(t)
	src := t.TempDir()

	_, err := execute(t, "--quiet", src, filepath.Join(src, "missing"))
	require.Error(t, err)
	assert.Equal(t, 94, errors.ExitStatus(err))

	_, err = execute(t, "--quiet", "-z", "crc64", src, src)
	require.Error(t, err)
	assert.Equal(t, 98, errors.ExitStatus(err))

	out, err := execute(t, "--quiet", "--config", filepath.Join(src, "nope.ini"), src, src)
	require.Error(t, err)
	assert.Equal(t, 2, errors.ExitStatus(err))
	assert.NotContains(t, out, "Summary")
}

func TestSummaryWanted(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"success", nil, true},
		{"partial failure", errors.New(errors.ErrPartial, "1 files failed"), true},
		{"cancelled", errors.New(errors.ErrCancelled, "interrupted"), true},
		{"target locked", errors.New(errors.ErrTargetLocked, "held"), true},
		{"missing root", errors.New(errors.ErrRootNotFound, "gone"), false},
		{"unknown algorithm", errors.New(errors.ErrUnknownAlgorithm, "crc64"), false},
		{"invalid config", errors.Wrap(errors.New(errors.ErrConfigInvalid, "bad"), errors.ErrConfigInvalid, "load"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summaryWanted(tt.err))
		})
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &planner.Report{
		Summary: planner.Summary{
			DryRun:      true,
			SourceFiles: 10,
			Copied:      2,
			BytesCopied: 2048,
			Duplicates:  3,
			Errors:      1,
			Duration:    1500 * time.Millisecond,
		},
		Failures: []planner.Failure{{Path: "/src/bad.jpg", Phase: "copy"}},
	})

	text := out.String()
	assert.Contains(t, text, "Summary (dry run)")
	assert.Contains(t, text, "Source files:  10")
	assert.Contains(t, text, "2.0 KB")
	assert.Contains(t, text, "copy: /src/bad.jpg")
	assert.NotContains(t, text, "Run ended")

	out.Reset()
	printSummary(&out, &planner.Report{Summary: planner.Summary{State: planner.StateCancelled, Cancelled: 4}})
	assert.Contains(t, out.String(), "4 files not processed")
	assert.Contains(t, out.String(), "Run ended:     CANCELLED")
}
