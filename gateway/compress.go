// Compression predicate and middleware, grounded on
// zalando-skipper/filters/builtin/compress.go's canEncodeEntity and
// acceptedEncoding, adapted into a response-writing middleware rather
// than a filter, per spec.md §6's "Compression predicate".
package gateway

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// CompressionConfig is the configuration surface spec §6 names for
// the response-compression predicate.
type CompressionConfig struct {
	// Level is the zlib compression level passed to the gzip/deflate
	// writer: 1-9, or 0 for the library default (gzip.DefaultCompression),
	// which is what config.CompressionLevel's "default"/"" vocabulary
	// value maps to. There is no "disabled" level; an operator who wants
	// no compression omits an Accept-Encoding the predicate understands,
	// or adds the content-type to ExemptContentTypes.
	Level              int
	MinSize            int
	CompressImages     bool
	ExemptContentTypes []string
}

var defaultExempt = map[string]bool{
	"application/zip":     true,
	"application/gzip":    true,
	"application/x-gzip":  true,
	"application/x-bzip2": true,
	"application/x-xz":    true,
}

// CompressionMiddleware wraps handler with a response-compression
// layer implementing spec §6's predicate: compress iff (a) the
// response content-type isn't exempt, (b) it isn't image/* unless
// svg or compress_images is set, and (c) the known size is >= minSize
// (an unknown size is compressed).
func CompressionMiddleware(cfg CompressionConfig) func(http.Handler) http.Handler {
	exempt := map[string]bool{}
	for k := range defaultExempt {
		exempt[k] = true
	}
	for _, ct := range cfg.ExemptContentTypes {
		exempt[strings.ToLower(ct)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			enc := acceptedEncoding(r)
			if enc == "" {
				next.ServeHTTP(w, r)
				return
			}

			cw := &compressingWriter{
				ResponseWriter: w,
				req:            r,
				cfg:            cfg,
				exempt:         exempt,
				encoding:       enc,
			}
			defer cw.Close()
			next.ServeHTTP(cw, r)
		})
	}
}

type compressingWriter struct {
	http.ResponseWriter
	req      *http.Request
	cfg      CompressionConfig
	exempt   map[string]bool
	encoding string

	decided     bool
	compress    bool
	compressor  io.WriteCloser
}

func (w *compressingWriter) WriteHeader(status int) {
	w.decide()
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressingWriter) Write(p []byte) (int, error) {
	if !w.decided {
		w.decide()
	}
	if !w.compress {
		return w.ResponseWriter.Write(p)
	}
	return w.compressor.Write(p)
}

func (w *compressingWriter) decide() {
	if w.decided {
		return
	}
	w.decided = true

	header := w.ResponseWriter.Header()
	if !canEncodeEntity(header, w.cfg, w.exempt) {
		return
	}

	w.compress = true
	header.Del("Content-Length")
	header.Set("Content-Encoding", w.encoding)
	header.Add("Vary", "Accept-Encoding")

	switch w.encoding {
	case "gzip":
		level := w.cfg.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		gz, _ := gzip.NewWriterLevel(w.ResponseWriter, level)
		w.compressor = gz
	case "deflate":
		level := w.cfg.Level
		if level == 0 {
			level = flate.DefaultCompression
		}
		fl, _ := flate.NewWriter(w.ResponseWriter, level)
		w.compressor = fl
	}
}

func (w *compressingWriter) Close() {
	if w.compressor != nil {
		_ = w.compressor.Close()
	}
}

// Hijack lets the WebSocket upgrade path reach the underlying
// connection through a compressingWriter wrapper; a compressed
// response is never produced for an upgraded connection since the
// predicate only runs from WriteHeader/Write, neither of which the
// upgrade path calls on this writer.
func (w *compressingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func canEncodeEntity(header http.Header, cfg CompressionConfig, exempt map[string]bool) bool {
	if header.Get("Content-Encoding") != "" {
		return false
	}
	if strings.Contains(header.Get("Cache-Control"), "no-transform") {
		return false
	}

	contentType := header.Get("Content-Type")
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if exempt[mime] {
		return false
	}
	if strings.HasPrefix(mime, "image/") && mime != "image/svg+xml" && !cfg.CompressImages {
		return false
	}

	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n < cfg.MinSize {
			return false
		}
	}

	return true
}

// acceptedEncoding parses Accept-Encoding per its q-values and
// returns the gateway's best supported choice ("gzip" or "deflate"),
// or "" if the client accepts neither, grounded on compress.go's
// encodings.sort + accept-header-walking approach.
func acceptedEncoding(r *http.Request) string {
	header := r.Header.Get("Accept-Encoding")
	if header == "" {
		return ""
	}

	type candidate struct {
		name string
		q    float64
	}
	var candidates []candidate

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ";")
		name := strings.ToLower(strings.TrimSpace(fields[0]))
		q := 1.0
		for _, f := range fields[1:] {
			f = strings.TrimSpace(f)
			if strings.HasPrefix(f, "q=") {
				if v, err := strconv.ParseFloat(strings.TrimPrefix(f, "q="), 64); err == nil {
					q = v
				}
			}
		}
		if q <= 0 {
			continue
		}
		if name == "gzip" || name == "deflate" {
			candidates = append(candidates, candidate{name, q})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].q > candidates[j].q })

	for _, c := range candidates {
		return c.name
	}
	return ""
}
