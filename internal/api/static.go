package api

import (
	"fmt"
	"io/fs"
	"net/http"
	"strings"
)

// StaticFileServer serves the built map SPA from an embedded filesystem.
// Unknown paths get index.html so client-side routes survive a reload.
type StaticFileServer struct {
	subFS      fs.FS // Sub-filesystem starting at fileRoot
	fileServer http.Handler
}

// NewStaticFileServer creates a new static file server.
// fileRoot is the subdirectory within staticFS (e.g., "static" for
// //go:embed static); empty uses staticFS directly. The tree must contain
// index.html.
func NewStaticFileServer(staticFS fs.FS, fileRoot string) (*StaticFileServer, error) {
	subFS := staticFS
	if fileRoot != "" {
		var err error
		subFS, err = fs.Sub(staticFS, fileRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to open static root %q: %w", fileRoot, err)
		}
	}
	if _, err := fs.Stat(subFS, "index.html"); err != nil {
		return nil, fmt.Errorf("static files have no index.html: %w", err)
	}

	return &StaticFileServer{
		subFS:      subFS,
		fileServer: http.FileServer(http.FS(subFS)),
	}, nil
}

// ServeHTTP implements http.Handler.
func (s *StaticFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path != "" && path != "index.html" {
		if info, err := fs.Stat(s.subFS, path); err == nil && !info.IsDir() {
			// Bundler output under assets/ carries a content hash
			if strings.HasPrefix(path, "assets/") {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			} else {
				w.Header().Set("Cache-Control", "no-cache")
			}
			s.fileServer.ServeHTTP(w, r)
			return
		}
	}

	content, err := fs.ReadFile(s.subFS, "index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
