package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression.
type BrotliConfig struct {
	Quality int
	// Bodies shorter than MinLength are sent as-is.
	MinLength int
	// SkipPaths are matched exactly, SkipSuffixes against the path end.
	SkipPaths    []string
	SkipSuffixes []string
}

// DefaultBrotliConfig leaves the scrape, health and streaming endpoints
// uncompressed.
var DefaultBrotliConfig = BrotliConfig{
	Quality:      brotli.DefaultCompression,
	MinLength:    1024,
	SkipPaths:    []string{"/metrics", "/health"},
	SkipSuffixes: []string{"/live/stream", "/stream"},
}

// Brotli compresses JSON responses for clients that accept br.
func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

// BrotliWithConfig returns the compression middleware for cfg.
func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < brotli.BestSpeed || cfg.Quality > brotli.BestCompression {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if cfg.skip(c) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		bw := &brotliWriter{ResponseWriter: c.Writer, cfg: &cfg}
		c.Writer = bw
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

// skip reports whether the request must bypass compression. Event
// streams are flushed per message and a wrapped writer breaks the
// WebSocket handshake.
func (cfg *BrotliConfig) skip(c *gin.Context) bool {
	path := c.Request.URL.Path
	for _, p := range cfg.SkipPaths {
		if path == p {
			return true
		}
	}
	for _, s := range cfg.SkipSuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if name, _, _ := strings.Cut(strings.TrimSpace(enc), ";"); strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}

func compressible(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
}

// brotliWriter buffers the body until it reaches MinLength, then either
// switches to brotli or passes everything through.
type brotliWriter struct {
	gin.ResponseWriter
	cfg     *BrotliConfig
	buf     []byte
	enc     *brotli.Writer
	decided bool
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	if bw.decided {
		return bw.write(data)
	}

	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < bw.cfg.MinLength {
		return len(data), nil
	}
	bw.decide()
	if _, err := bw.write(bw.buf); err != nil {
		return 0, err
	}
	bw.buf = nil
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// decide picks compression once the body is known to be large enough.
func (bw *brotliWriter) decide() {
	bw.decided = true
	h := bw.ResponseWriter.Header()
	if h.Get("Content-Encoding") != "" || !compressible(h.Get("Content-Type")) {
		return
	}
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	bw.enc = brotli.NewWriterLevel(bw.ResponseWriter, bw.cfg.Quality)
}

func (bw *brotliWriter) write(p []byte) (int, error) {
	if bw.enc != nil {
		return bw.enc.Write(p)
	}
	return bw.ResponseWriter.Write(p)
}

// Flush sends whatever is buffered uncompressed. Streaming handlers that
// slip past skip still reach the client.
func (bw *brotliWriter) Flush() {
	if !bw.decided {
		bw.decided = true
		if len(bw.buf) > 0 {
			_, _ = bw.ResponseWriter.Write(bw.buf)
			bw.buf = nil
		}
	} else if bw.enc != nil {
		_ = bw.enc.Flush()
	}
	bw.ResponseWriter.Flush()
}

// finish writes a short buffered body as-is or closes the encoder.
func (bw *brotliWriter) finish() error {
	if bw.enc != nil {
		return bw.enc.Close()
	}
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.ResponseWriter.Write(bw.buf)
	bw.buf = nil
	return err
}
