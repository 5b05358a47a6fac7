// Package media classifies files as images or videos and reads their
// content-creation dates.
package media

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is a coarse file classification used in log events.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindOther Kind = "other"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".tif": {}, ".tiff": {},
	".heic": {}, ".heif": {}, ".webp": {}, ".raw": {}, ".cr2": {}, ".nef": {}, ".arw": {},
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".m4v": {}, ".3gp": {}, ".flv": {},
	".wmv": {}, ".mpg": {}, ".mpeg": {}, ".mts": {}, ".m2ts": {},
}

// KindByExtension classifies path by its extension alone.
func KindByExtension(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := imageExtensions[ext]; ok {
		return KindImage
	}
	if _, ok := videoExtensions[ext]; ok {
		return KindVideo
	}
	return KindOther
}

// IsMediaFile reports whether path has an image or video extension.
func IsMediaFile(path string) bool {
	return KindByExtension(path) != KindOther
}

// DetectKind sniffs the file's content. Files that cannot be read or whose
// type is not recognised fall back to the extension.
func DetectKind(path string) Kind {
	m, err := mimetype.DetectFile(path)
	if err == nil {
		for ; m != nil; m = m.Parent() {
			switch {
			case strings.HasPrefix(m.String(), "image/"):
				return KindImage
			case strings.HasPrefix(m.String(), "video/"):
				return KindVideo
			}
		}
	}
	return KindByExtension(path)
}

// ContentType guesses a MIME type from the file name.
func ContentType(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
