package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerServesFilesAndFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>board</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	h := (&Server{Dir: dir}).Handler()

	get := func(p string) (*http.Response, string) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		res := rec.Result()
		body, _ := io.ReadAll(res.Body)
		return res, string(body)
	}

	res, body := get("/app.js")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "console.log(1)", body)
	require.Equal(t, "no-store", res.Header.Get("Cache-Control"))

	res, body = get("/rooms/42")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "<html>board</html>", body)
}
