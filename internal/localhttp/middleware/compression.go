package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// CompressionConfig contains configuration for the compression middleware
type CompressionConfig struct {
	// Level is the compression level (1-9)
	Level int
	// ExcludedPaths are paths that should not be compressed
	ExcludedPaths []string
}

// DefaultCompressionConfig leaves the health probe and the event stream alone.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Level:         gzip.DefaultCompression,
		ExcludedPaths: []string{"/health", "/v1/events"},
	}
}

func Compression(config CompressionConfig) gin.HandlerFunc {
	return gzip.Gzip(config.Level, gzip.WithExcludedPaths(config.ExcludedPaths))
}
