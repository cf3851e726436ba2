package utils

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultContentType = "application/octet-stream"

// DetectContentType guesses a MIME type from the file name alone.
func DetectContentType(name string) string {
	if isTextLike(name) {
		return "text/plain; charset=utf-8"
	} else if mimeType := mime.TypeByExtension(filepath.Ext(name)); mimeType != "" {
		return mimeType
	}
	return defaultContentType
}

// DetectFileContentType sniffs the file header and falls back to the
// extension when the content is not conclusive.
func DetectFileContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || mt.Is(defaultContentType) {
		return DetectContentType(path)
	}
	return mt.String()
}

func isTextLike(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml", ".md":
		return true
	}
	return false
}
