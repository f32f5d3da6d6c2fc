package handler

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/plugin"
)

// Static serves files from a directory tree under an optional URL prefix.
type Static struct {
	RootDir      string
	Prefix       string
	IndexFiles   []string
	CacheControl string
}

// NewStatic creates a static file handler with sane defaults.
func NewStatic(rootDir, prefix string) *Static {
	return &Static{
		RootDir:      rootDir,
		Prefix:       prefix,
		IndexFiles:   []string{"index.html"},
		CacheControl: "public, max-age=3600",
	}
}

func (s *Static) Name() string { return "static" }

// Handle resolves the request path inside RootDir. Paths escaping the root
// are rejected; directories fall back to index files; misses decline so
// the router's 404 applies.
func (s *Static) Handle(r *http.Request, ctx *plugin.Context) (Result, error) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return NotFound(), nil
	}

	rel := strings.TrimPrefix(r.URL.Path, s.Prefix)
	rel = strings.TrimPrefix(rel, "/")

	// Normalize and refuse anything that climbs out of the root.
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(s.RootDir, clean)

	root, err := filepath.Abs(s.RootDir)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.KindHandler, "static root unavailable")
	}
	abs, err := filepath.Abs(full)
	if err != nil || (abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator))) {
		return Result{}, errors.Forbidden("path is outside the static root")
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return NotFound(), nil
		}
		return Result{}, errors.Wrap(err, errors.KindHandler, "failed to stat file")
	}

	if info.IsDir() {
		found := false
		for _, idx := range s.IndexFiles {
			candidate := filepath.Join(abs, idx)
			if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
				abs, info = candidate, fi
				found = true
				break
			}
		}
		if !found {
			return NotFound(), nil
		}
	}

	etag := fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		return Respond(&Response{
			Status:  http.StatusNotModified,
			Headers: map[string]string{"ETag": etag},
		}), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.KindHandler, "failed to read file")
	}

	contentType := mime.TypeByExtension(filepath.Ext(abs))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	headers := map[string]string{
		"Content-Type":  contentType,
		"Last-Modified": info.ModTime().UTC().Format(http.TimeFormat),
		"ETag":          etag,
	}
	if s.CacheControl != "" {
		headers["Cache-Control"] = s.CacheControl
	}

	if r.Method == http.MethodHead {
		data = nil
	}

	return Respond(&Response{
		Status:  http.StatusOK,
		Headers: headers,
		Body:    data,
	}), nil
}
