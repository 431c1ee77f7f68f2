package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"regexp"
	"time"
)

// Logf is the signature of log.Printf
type Logf func(format string, args ...any)

// RequestLogger returns middleware that logs method, normalized path,
// status, response size and latency of every request.
func RequestLogger(logf Logf) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			logf("%s %s %d %dB %v", r.Method, normalizePath(r.URL.Path), rw.statusCode, rw.written,
				time.Since(start).Round(time.Millisecond))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and
// size. Flush and Hijack pass through for exports and the websocket.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(p)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Box and sensor ids are 24 hex digit object ids
var objectIDPattern = regexp.MustCompile(`/[0-9a-fA-F]{24}(/|$)`)

// normalizePath replaces ids so log lines group by route.
// Examples:
//   - /boxes/5a8d1c25bc2d41001927a265/data → /boxes/{id}/data
//   - /boxes/5a8d1c25bc2d41001927a265/5a8d1c25bc2d41001927a266 → /boxes/{id}/{id}
func normalizePath(path string) string {
	// Matches can share a slash, so replace until stable
	for {
		next := objectIDPattern.ReplaceAllString(path, "/{id}$1")
		if next == path {
			return path
		}
		path = next
	}
}
