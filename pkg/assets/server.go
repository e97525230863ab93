// Package assets serves a single local file, typically a font, to rendered
// pages over an ephemeral loopback HTTP listener.
package assets

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Resource server errors, all terminal for Start.
var (
	// ErrUnsupportedExtension rejects files we have no MIME type for.
	ErrUnsupportedExtension = errors.New("unsupported file extension")

	// ErrFileUnusable rejects paths that are missing or not regular
	// files.
	ErrFileUnusable = errors.New("file is missing or not a regular file")

	// ErrNotListening is returned by URL when the server is stopped.
	ErrNotListening = errors.New("resource server is not listening")
)

// contentTypes maps the recognized font extensions to their MIME types.
var contentTypes = map[string]string{
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttc":   "font/ttf",
}

const cacheControl = "public, max-age=31536000, immutable"

// Server is the singleton file server. Starting it with the path it already
// serves is a no-op; a different path replaces the listener.
type Server struct {
	mu sync.Mutex

	log *logrus.Entry

	path string
	port int
	srv  *http.Server
}

// NewServer creates a stopped resource server.
func NewServer(log *logrus.Entry) *Server {
	return &Server{log: log}
}

// Start validates the file and begins serving it on an OS-assigned loopback
// port, returning the /font URL. Validation happens before any prior
// listener is touched, so a bad path never kills a healthy server.
func (s *Server) Start(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil && s.path == path {
		return s.urlLocked(), nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, ok := contentTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w %q for %s", ErrUnsupportedExtension, ext, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFileUnusable, path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrFileUnusable, path)
	}

	if s.srv != nil {
		s.stopLocked()
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to bind resource server: %w", err)
	}

	srv := &http.Server{Handler: s.handler(path, filepath.Base(path), contentType)}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Warn("resource server exited")
		}
	}()

	s.path = path
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.srv = srv
	s.log.WithFields(logrus.Fields{"path": path, "port": s.port}).Info("resource server started")

	return s.urlLocked(), nil
}

// Stop closes the listener. Safe to call when already stopped.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return
	}
	s.stopLocked()
}

func (s *Server) stopLocked() {
	if err := s.srv.Close(); err != nil {
		s.log.WithError(err).Warn("error closing resource server")
	}
	s.srv = nil
	s.path = ""
	s.port = 0
}

// URL returns the address pages should load the file from.
func (s *Server) URL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return "", ErrNotListening
	}
	return s.urlLocked(), nil
}

// Listening reports whether the server currently holds a listener.
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

func (s *Server) urlLocked() string {
	return fmt.Sprintf("http://localhost:%d/font", s.port)
}

// handler serves exactly two routes, /font and the file's base name, with
// permissive CORS and a one-year cache so pages can embed the file freely.
func (s *Server) handler(path, basename, contentType string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Cache-Control", cacheControl)

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodGet:
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if r.URL.Path != "/font" && r.URL.Path != "/"+basename {
			http.NotFound(w, r)
			return
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.WithError(err).Error("failed to read served file")
			http.Error(w, "failed to read file", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if _, err := w.Write(data); err != nil {
			s.log.WithError(err).Debug("failed to write response")
		}
	})
}
