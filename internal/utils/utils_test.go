package utils

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"notes.md", "text/plain; charset=utf-8"},
		{"config.YAML", "text/plain; charset=utf-8"},
		{"page.html", "text/html; charset=utf-8"},
		{"archive.unknownext", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.name))
		})
	}
}

func TestDetectFileContentType(t *testing.T) {
	dir := t.TempDir()

	png := filepath.Join(dir, "image.bin")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n0000"), 0o644))
	assert.Equal(t, "image/png", DetectFileContentType(png))

	missing := filepath.Join(dir, "missing.md")
	assert.Equal(t, "text/plain; charset=utf-8", DetectFileContentType(missing))
}

func TestParseAndFormatTime(t *testing.T) {
	assert.True(t, ParseRemoteTime("").IsZero())
	assert.True(t, ParseRemoteTime("not a time").IsZero())

	ts := ParseRemoteTime("2026-03-04T05:06:07.123Z")
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, time.March, ts.Month())

	assert.Equal(t, "-", FormatTime(time.Time{}))
	assert.Contains(t, FormatTime(time.Now().Add(-3*time.Hour)), "hours ago")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "*****", MaskSecret("abc"))
	assert.Equal(t, "abcd*****", MaskSecret("abcdefgh"))
}

func TestTokenHex(t *testing.T) {
	a, b := TokenHex(16), TokenHex(16)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestMultiLogHandler(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	h := NewMultiLogHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		nil,
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)
	logger := slog.New(h).With("component", "test").WithGroup("g")

	logger.Debug("only debug", "k", 1)
	logger.Info("both", "k", 2)

	assert.Contains(t, debugBuf.String(), "only debug")
	assert.Contains(t, debugBuf.String(), "both")
	assert.NotContains(t, infoBuf.String(), "only debug")
	assert.Contains(t, infoBuf.String(), "component=test")
	assert.True(t, strings.Contains(infoBuf.String(), "g.k=2"))
}
