package internal

import (
	"compress/gzip"
	"net/http"
	"strings"
)

// GzipMiddleware compresses responses for clients that advertise gzip
// support. The lookup API mostly serves JSON records, which compress
// well even at low levels.
func GzipMiddleware(level int, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		zw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			// Only an out-of-range level can fail here.
			panic(err)
		}
		defer zw.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")

		next.ServeHTTP(compressedWriter{ResponseWriter: w, zw: zw}, r)
	})
}

// compressedWriter routes the body through the gzip writer while headers
// and status keep going to the wrapped ResponseWriter.
type compressedWriter struct {
	http.ResponseWriter
	zw *gzip.Writer
}

func (w compressedWriter) Write(b []byte) (int, error) {
	return w.zw.Write(b)
}
