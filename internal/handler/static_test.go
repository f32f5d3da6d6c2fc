package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/plugin"
)

func staticFixture(t *testing.T) *Static {
	t.Helper()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "docs", "index.html"), []byte("<h1>docs</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}

	return NewStatic(dir, "/static")
}

func TestStaticServesFile(t *testing.T) {
	s := staticFixture(t)
	r := httptest.NewRequest("GET", "/static/hello.txt", nil)

	res, err := s.Handle(r, plugin.NewContext(r))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.NotFound || res.Response == nil {
		t.Fatalf("res = %+v", res)
	}
	if res.Response.Status != http.StatusOK || string(res.Response.Body) != "hello" {
		t.Errorf("status=%d body=%q", res.Response.Status, res.Response.Body)
	}
	if ct := res.Response.Headers["Content-Type"]; ct == "" {
		t.Error("missing Content-Type")
	}
	if res.Response.Headers["Cache-Control"] == "" {
		t.Error("missing Cache-Control")
	}
	if res.Response.Headers["ETag"] == "" || res.Response.Headers["Last-Modified"] == "" {
		t.Error("missing conditional headers")
	}
}

func TestStaticDirectoryIndex(t *testing.T) {
	s := staticFixture(t)
	r := httptest.NewRequest("GET", "/static/docs", nil)

	res, err := s.Handle(r, plugin.NewContext(r))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Response == nil || string(res.Response.Body) != "<h1>docs</h1>" {
		t.Fatalf("res = %+v", res)
	}
}

func TestStaticMissDeclines(t *testing.T) {
	s := staticFixture(t)
	r := httptest.NewRequest("GET", "/static/nope.txt", nil)

	res, err := s.Handle(r, plugin.NewContext(r))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.NotFound {
		t.Fatalf("res = %+v, want NotFound", res)
	}
}

func TestStaticRejectsTraversal(t *testing.T) {
	s := staticFixture(t)

	for _, path := range []string{
		"/static/../secret.txt",
		"/static/../../etc/passwd",
		"/static/docs/../../outside",
	} {
		r := httptest.NewRequest("GET", path, nil)
		res, err := s.Handle(r, plugin.NewContext(r))
		if err == nil && res.Response != nil {
			t.Errorf("%s: served a response, want rejection or miss", path)
		}
		if err != nil {
			se := errors.FromError(err)
			if se.Kind != errors.KindForbidden {
				t.Errorf("%s: kind = %v, want forbidden", path, se.Kind)
			}
		}
	}
}

func TestStaticETagRevalidation(t *testing.T) {
	s := staticFixture(t)

	r := httptest.NewRequest("GET", "/static/hello.txt", nil)
	res, err := s.Handle(r, plugin.NewContext(r))
	if err != nil {
		t.Fatal(err)
	}
	etag := res.Response.Headers["ETag"]

	r2 := httptest.NewRequest("GET", "/static/hello.txt", nil)
	r2.Header.Set("If-None-Match", etag)
	res2, err := s.Handle(r2, plugin.NewContext(r2))
	if err != nil {
		t.Fatal(err)
	}
	if res2.Response.Status != http.StatusNotModified {
		t.Errorf("status = %d, want 304", res2.Response.Status)
	}
	if len(res2.Response.Body) != 0 {
		t.Error("304 must have no body")
	}
}

func TestStaticHeadOmitsBody(t *testing.T) {
	s := staticFixture(t)
	r := httptest.NewRequest("HEAD", "/static/hello.txt", nil)

	res, err := s.Handle(r, plugin.NewContext(r))
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Status != http.StatusOK || len(res.Response.Body) != 0 {
		t.Errorf("status=%d bodyLen=%d", res.Response.Status, len(res.Response.Body))
	}
}

func TestStaticNonGetDeclines(t *testing.T) {
	s := staticFixture(t)
	r := httptest.NewRequest("POST", "/static/hello.txt", nil)

	res, err := s.Handle(r, plugin.NewContext(r))
	if err != nil {
		t.Fatal(err)
	}
	if !res.NotFound {
		t.Errorf("res = %+v, want decline", res)
	}
}
