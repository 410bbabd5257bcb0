package main

import (
	"compress/gzip"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// newCompressionHandler wraps h with gzip compression. The handler is returned
// unchanged when compression is disabled.
func newCompressionHandler(h http.Handler, cfg *CompressionConfig) (http.Handler, error) {
	if cfg == nil || !cfg.Enabled || cfg.Level == "none" {
		return h, nil
	}

	var level int
	switch cfg.Level {
	case "fastest":
		level = gzip.BestSpeed
	case "best":
		level = gzip.BestCompression
	default:
		level = gzip.DefaultCompression
	}

	wrapper, err := gzhttp.NewWrapper(
		gzhttp.MinSize(cfg.MinSize),
		gzhttp.CompressionLevel(level),
	)
	if err != nil {
		return nil, err
	}
	return wrapper(h), nil
}
