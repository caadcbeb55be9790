// Package web serves the built chat client.
package web

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

type Server struct {
	Dir string
}

// Handler serves files from Dir. Paths that do not name a file fall back to
// index.html so client-side routes survive a reload.
func (s *Server) Handler() http.Handler {
	fsys := http.Dir(s.Dir)
	files := http.FileServer(fsys)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		name := path.Clean("/" + r.URL.Path)
		if _, err := os.Stat(filepath.Join(s.Dir, filepath.FromSlash(name))); errors.Is(err, fs.ErrNotExist) {
			http.ServeFile(w, r, filepath.Join(s.Dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}
