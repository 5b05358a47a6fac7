package media

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
)

// ErrNoDate is returned when a file carries no usable creation date.
var ErrNoDate = errors.New("no creation date in metadata")

const exifDateLayout = "2006:01:02 15:04:05"

// dateKeys are checked in order; the first that parses wins.
var dateKeys = []string{"DateTimeOriginal", "CreateDate", "MediaCreateDate"}

// DateExtractor reads the content-creation date embedded in a file.
type DateExtractor interface {
	CreationDate(path string) (time.Time, error)
}

// ExifToolExtractor reads dates with a shared exiftool process that is
// started on first use. It is safe for concurrent use.
type ExifToolExtractor struct {
	mu      sync.Mutex
	et      *exiftool.Exiftool
	initErr error
}

// NewExifToolExtractor returns an extractor; exiftool is not started until
// the first CreationDate call.
func NewExifToolExtractor() *ExifToolExtractor {
	return &ExifToolExtractor{}
}

// Close stops the exiftool process if it was started.
func (s *ExifToolExtractor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.et == nil {
		return nil
	}
	err := s.et.Close()
	s.et = nil
	return err
}

func (s *ExifToolExtractor) ensureExifTool() (*exiftool.Exiftool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.et != nil {
		return s.et, nil
	}
	// exiftool missing from PATH will not appear mid-run
	if s.initErr != nil {
		return nil, s.initErr
	}

	et, err := exiftool.NewExiftool()
	if err != nil {
		s.initErr = fmt.Errorf("start exiftool: %w", err)
		return nil, s.initErr
	}
	s.et = et
	return s.et, nil
}

// CreationDate implements DateExtractor.
func (s *ExifToolExtractor) CreationDate(path string) (time.Time, error) {
	et, err := s.ensureExifTool()
	if err != nil {
		return time.Time{}, err
	}

	for _, fm := range et.ExtractMetadata(path) {
		if fm.Err != nil {
			return time.Time{}, fmt.Errorf("extract metadata: %w", fm.Err)
		}
		if t, ok := DateFromFields(fm.Fields); ok {
			return t, nil
		}
	}
	return time.Time{}, ErrNoDate
}

// DateFromFields picks the creation date out of exiftool fields.
func DateFromFields(fields map[string]interface{}) (time.Time, bool) {
	for _, key := range dateKeys {
		s, ok := fields[key].(string)
		if !ok {
			continue
		}
		// some cameras append sub-seconds or a zone; the first 19 bytes are the date
		if len(s) > len(exifDateLayout) {
			s = s[:len(exifDateLayout)]
		}
		t, err := time.Parse(exifDateLayout, s)
		if err != nil || t.Year() <= 1 {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}
