// Package testutils provides shared test infrastructure.
package testutils

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestFile defines a test file with size and data.
type TestFile struct {
	Name string
	Size int64
	Data []byte
}

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 251)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// ServerOptions changes how the test server answers.
type ServerOptions struct {
	// NoRanges makes the server ignore Range headers and omit Accept-Ranges.
	NoRanges bool

	// NoHead makes HEAD requests fail with 405.
	NoHead bool

	// Fail, when set, is consulted for every GET. Returning true answers
	// 500 Internal Server Error.
	Fail func(r *http.Request, start, end int64) bool

	// ChunkSize and ChunkDelay throttle bodies: ChunkSize bytes are written,
	// then the handler sleeps ChunkDelay. Default chunk size: 4KiB.
	ChunkSize  int
	ChunkDelay time.Duration

	// ETag is sent with every response. Default: derived from the path.
	ETag string
}

// Server is an httptest server serving TestFiles with range support.
type Server struct {
	*httptest.Server

	opts  ServerOptions
	files map[string][]byte

	mu     sync.Mutex
	ranges []string
	gets   int
}

// StartServer starts a range-capable HTTP server for files.
func StartServer(t *testing.T, files []TestFile, opts ServerOptions) *Server {
	t.Helper()

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 4 * 1024
	}
	s := &Server{
		opts:  opts,
		files: make(map[string][]byte),
	}
	for _, f := range files {
		s.files["/"+f.Name] = f.Data
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// FileURL returns the URL of a served file.
func (s *Server) FileURL(name string) string {
	return s.URL + "/" + name
}

// Ranges returns the Range headers of all GET requests received so far.
// Requests without a Range header are recorded as "".
func (s *Server) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Gets returns the number of GET requests received so far.
func (s *Server) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *Server) etag(path string) string {
	if s.opts.ETag != "" {
		return s.opts.ETag
	}
	return fmt.Sprintf(`"%s"`, path)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	data, ok := s.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	size := int64(len(data))

	if r.Method == http.MethodHead {
		if s.opts.NoHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if !s.opts.NoRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.Header().Set("ETag", s.etag(r.URL.Path))
		return
	}

	rangeHeader := r.Header.Get("Range")
	s.mu.Lock()
	s.gets++
	s.ranges = append(s.ranges, rangeHeader)
	s.mu.Unlock()

	start, end := int64(0), size-1
	partial := rangeHeader != "" && !s.opts.NoRanges
	if partial {
		// Parse range header: bytes=start-end
		rng := strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.Split(rng, "-")
		start, _ = strconv.ParseInt(parts[0], 10, 64)
		end, _ = strconv.ParseInt(parts[1], 10, 64)
		if end >= size {
			end = size - 1
		}
		if start > end {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
	}

	if s.opts.Fail != nil && s.opts.Fail(r, start, end) {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("ETag", s.etag(r.URL.Path))
	if partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.WriteHeader(http.StatusPartialContent)
	}

	body := data[start : end+1]
	if s.opts.ChunkDelay == 0 {
		w.Write(body)
		return
	}

	flusher, _ := w.(http.Flusher)
	for len(body) > 0 {
		n := min(s.opts.ChunkSize, len(body))
		if _, err := w.Write(body[:n]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		body = body[n:]

		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.opts.ChunkDelay):
		}
	}
}

// CompareFile fails the test unless the file at path holds exactly expected.
func CompareFile(t *testing.T, path string, expected []byte) {
	t.Helper()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(got) != len(expected) {
		t.Fatalf("%s: got %d bytes, want %d", path, len(got), len(expected))
	}
	if !bytes.Equal(got, expected) {
		for i := range got {
			if got[i] != expected[i] {
				t.Fatalf("%s: data mismatch at offset %d", path, i)
			}
		}
	}
}
