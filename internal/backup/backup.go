// Package backup archives the SOURCE file list before a run mutates anything.
package backup

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/yuya-takeyama/sumcompare/internal/checksum"
	"github.com/yuya-takeyama/sumcompare/internal/s3client"
	"github.com/yuya-takeyama/sumcompare/internal/walker"
)

// Uploader ships a finished archive somewhere off the machine.
type Uploader interface {
	UploadFile(ctx context.Context, bucket, prefix, localPath string) (string, error)
}

type Options struct {
	// Dir receives the archive. Empty means the OS temp directory.
	Dir string
	// S3URI, when set, uploads the archive to s3://bucket/prefix.
	S3URI    string
	Uploader Uploader
	Logger   zerolog.Logger
	now      func() time.Time
}

// Result describes a finished backup.
type Result struct {
	Path     string
	Location string
	Files    int
	Bytes    int64
}

type Archiver struct {
	opts Options
}

func NewArchiver(opts Options) *Archiver {
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Archiver{opts: opts}
}

// Backup zips files, named relative to root, into a new archive. The archive
// only becomes visible under its final name once it is complete.
func (a *Archiver) Backup(ctx context.Context, root string, files []walker.FileInfo) (Result, error) {
	dir := a.opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("Source_Backup_%s.zip", a.opts.now().Format("20060102-150405"))
	final := filepath.Join(dir, name)

	res, err := a.writeArchive(ctx, final, root, files)
	if err != nil {
		return Result{}, err
	}
	a.opts.Logger.Info().Str("path", final).Int("files", res.Files).Int64("bytes", res.Bytes).Msg("Backup archive written")

	if a.opts.S3URI == "" {
		return res, nil
	}
	if a.opts.Uploader == nil {
		return res, fmt.Errorf("no uploader configured for %s", a.opts.S3URI)
	}
	bucket, prefix, err := s3client.ParseS3URI(a.opts.S3URI)
	if err != nil {
		return res, err
	}
	loc, err := a.opts.Uploader.UploadFile(ctx, bucket, prefix, final)
	if err != nil {
		return res, fmt.Errorf("upload backup: %w", err)
	}
	res.Location = loc
	a.opts.Logger.Info().Str("location", loc).Msg("Backup archive uploaded")
	return res, nil
}

func (a *Archiver) writeArchive(ctx context.Context, final, root string, files []walker.FileInfo) (Result, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(final), ".backup-*.zip")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	zw := zip.NewWriter(tempFile)
	res := Result{Path: final}
	buf := checksum.GetBuffer()
	defer checksum.PutBuffer(buf)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		n, err := addFile(zw, root, f, *buf)
		if err != nil {
			return Result{}, err
		}
		res.Files++
		res.Bytes += n
	}

	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return Result{}, fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tempPath, final); err != nil {
		return Result{}, fmt.Errorf("failed to rename archive: %w", err)
	}
	tempFile = nil
	return res, nil
}

func addFile(zw *zip.Writer, root string, f walker.FileInfo, buf []byte) (int64, error) {
	rel, err := filepath.Rel(root, f.Path)
	if err != nil {
		return 0, fmt.Errorf("relative path for %s: %w", f.Path, err)
	}

	src, err := os.Open(f.Path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.Path, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fmt.Errorf("zip header for %s: %w", f.Path, err)
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", rel, err)
	}
	n, err := io.CopyBuffer(w, struct{ io.Reader }{src}, buf)
	if err != nil {
		return n, fmt.Errorf("archive %s: %w", rel, err)
	}
	return n, nil
}
