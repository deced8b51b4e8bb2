package handler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ulsgks/webserv/internal/cgi"
	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/httpmsg"
)

func makeRequest(t *testing.T, raw string) *httpmsg.Request {
	t.Helper()
	r := httpmsg.NewRequest(0)
	if err := r.Feed([]byte(raw)); err != nil {
		t.Fatalf("request %q did not parse: %v", raw, err)
	}
	if !r.Complete() {
		t.Fatalf("request %q incomplete", raw)
	}
	return r
}

func testServer(root string, locs ...*config.LocationBlock) *config.ServerBlock {
	return &config.ServerBlock{
		Listens:    []config.Listen{{Port: 8080}},
		Root:       root,
		ErrorPages: map[int]string{},
		Locations:  locs,
	}
}

func deps() Deps {
	return Deps{ServerPort: 8080, RemoteAddr: "127.0.0.1", CGI: &cgi.State{}}
}

func TestStaticGet(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := testServer(root, &config.LocationBlock{
		Path: "/", Methods: []string{"GET"}, Index: "index.html",
	})

	resp := Handle(makeRequest(t, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if string(resp.Body) != "hi" {
		t.Errorf("body = %q", resp.Body)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/html" {
		t.Errorf("Content-Type = %q", got)
	}

	resp = Handle(makeRequest(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusOK || string(resp.Body) != "hi" {
		t.Errorf("directory index: %d %q", resp.Status, resp.Body)
	}
}

func TestGetNotFound(t *testing.T) {
	srv := testServer(t.TempDir(), &config.LocationBlock{Path: "/", Methods: []string{"GET"}})
	resp := Handle(makeRequest(t, "GET /missing.html HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusNotFound {
		t.Errorf("status = %d", resp.Status)
	}
}

func TestNoMatchingLocation(t *testing.T) {
	srv := testServer(t.TempDir(), &config.LocationBlock{Path: "/only", Methods: []string{"GET"}})
	resp := Handle(makeRequest(t, "GET /elsewhere HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusNotFound {
		t.Errorf("status = %d", resp.Status)
	}
}

func TestTraversalRejected(t *testing.T) {
	srv := testServer(t.TempDir(), &config.LocationBlock{Path: "/", Methods: []string{"GET"}})
	resp := Handle(makeRequest(t, "GET /../../etc/passwd HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.Status)
	}
}

func TestSensitiveResources(t *testing.T) {
	root := t.TempDir()
	srv := testServer(root, &config.LocationBlock{Path: "/", Methods: []string{"GET"}})
	for _, path := range []string{"/.env", "/sub/.git/config", "/script.py", "/code.go", "/run.cgi"} {
		resp := Handle(makeRequest(t, "GET "+path+" HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
		if resp.Status != http.StatusForbidden {
			t.Errorf("GET %s: status = %d, want 403", path, resp.Status)
		}
	}
}

func TestMethodGate(t *testing.T) {
	srv := testServer(t.TempDir(), &config.LocationBlock{Path: "/", Methods: []string{"GET", "POST"}})

	resp := Handle(makeRequest(t, "TRACE / HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusNotImplemented {
		t.Errorf("TRACE: status = %d, want 501", resp.Status)
	}

	resp = Handle(makeRequest(t, "PUT / HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusMethodNotAllowed {
		t.Errorf("PUT: status = %d, want 405", resp.Status)
	}
	if got := resp.Header.Get("Allow"); got != "GET, POST" {
		t.Errorf("Allow = %q, want \"GET, POST\"", got)
	}

	resp = Handle(makeRequest(t, "DELETE /x HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusMethodNotAllowed {
		t.Errorf("DELETE: status = %d, want 405", resp.Status)
	}
}

func TestRedirect(t *testing.T) {
	srv := testServer(t.TempDir(),
		&config.LocationBlock{Path: "/old", Methods: []string{"GET"}, Redirect: &config.Redirect{Code: 301, URL: "/new"}})
	resp := Handle(makeRequest(t, "GET /old/page HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != 301 {
		t.Errorf("status = %d", resp.Status)
	}
	if got := resp.Header.Get("Location"); got != "/new" {
		t.Errorf("Location = %q", got)
	}
}

func TestAutoindex(t *testing.T) {
	root := t.TempDir()
	os.Mkdir(filepath.Join(root, "sub"), 0o755)
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(root, ".hidden"), []byte("h"), 0o644)

	srv := testServer(root, &config.LocationBlock{Path: "/", Methods: []string{"GET"}, Autoindex: true})
	resp := Handle(makeRequest(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	body := string(resp.Body)
	if !strings.Contains(body, "sub/") || !strings.Contains(body, "a.txt") {
		t.Errorf("listing incomplete: %q", body)
	}
	if strings.Contains(body, ".hidden") {
		t.Error("hidden entries must be omitted")
	}
	if strings.Index(body, "sub/") > strings.Index(body, "a.txt") {
		t.Error("directories must list first")
	}

	// No index, no autoindex: directory access is denied.
	srv = testServer(root, &config.LocationBlock{Path: "/", Methods: []string{"GET"}})
	resp = Handle(makeRequest(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.Status)
	}
}

func TestExactLocationServesIndex(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "special.html"), []byte("special"), 0o644)
	srv := testServer(root,
		&config.LocationBlock{Path: "/exact", Exact: true, Methods: []string{"GET"}, Index: "special.html"})
	resp := Handle(makeRequest(t, "GET /exact HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusOK || string(resp.Body) != "special" {
		t.Errorf("got %d %q", resp.Status, resp.Body)
	}
}

func multipartRequest(t *testing.T, filename, content string) *httpmsg.Request {
	t.Helper()
	body := "--B\r\nContent-Disposition: form-data; name=\"f\"; filename=\"" + filename + "\"\r\n\r\n" +
		content + "\r\n--B--\r\n"
	raw := fmt.Sprintf("POST /up HTTP/1.1\r\nHost: x\r\nContent-Type: multipart/form-data; boundary=B\r\nContent-Length: %d\r\n\r\n%s",
		len(body), body)
	return makeRequest(t, raw)
}

func TestMultipartUpload(t *testing.T) {
	store := t.TempDir()
	srv := testServer(t.TempDir(),
		&config.LocationBlock{Path: "/up", Methods: []string{"POST"}, UploadStore: store})

	resp := Handle(multipartRequest(t, "a.txt", "HELLO"), srv, deps())
	if resp.Status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.Status)
	}
	saved, err := os.ReadFile(filepath.Join(store, "a.txt"))
	if err != nil || string(saved) != "HELLO" {
		t.Errorf("stored file = %q, %v", saved, err)
	}

	// Uploading the same name again must not overwrite.
	resp = Handle(multipartRequest(t, "a.txt", "AGAIN"), srv, deps())
	if resp.Status != http.StatusConflict {
		t.Errorf("repeat upload: status = %d, want 409", resp.Status)
	}
}

func TestUploadWithoutStore(t *testing.T) {
	srv := testServer(t.TempDir(), &config.LocationBlock{Path: "/up", Methods: []string{"POST"}})
	resp := Handle(multipartRequest(t, "a.txt", "HELLO"), srv, deps())
	if resp.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.Status)
	}
}

func TestPostBodyCap(t *testing.T) {
	srv := testServer(t.TempDir(),
		&config.LocationBlock{Path: "/up", Methods: []string{"POST"}, MaxBodySize: 4, UploadStore: t.TempDir()})
	resp := Handle(multipartRequest(t, "a.txt", "HELLO"), srv, deps())
	if resp.Status != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.Status)
	}
}

func TestFormSubmission(t *testing.T) {
	// Without a store the fields echo back with 200.
	srv := testServer(t.TempDir(), &config.LocationBlock{Path: "/form", Methods: []string{"POST"}})
	formBody := "name=a+b&k=%21"
	raw := fmt.Sprintf("POST /form HTTP/1.1\r\nHost: x\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: %d\r\n\r\n%s",
		len(formBody), formBody)
	resp := Handle(makeRequest(t, raw), srv, deps())
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	body := string(resp.Body)
	if !strings.Contains(body, "a b") {
		t.Errorf("echo page missing decoded field: %q", body)
	}

	// With a store the submission persists and returns 201.
	store := t.TempDir()
	srv = testServer(t.TempDir(),
		&config.LocationBlock{Path: "/form", Methods: []string{"POST"}, UploadStore: store})
	resp = Handle(makeRequest(t, "POST /form HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nk=v"), srv, deps())
	if resp.Status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.Status)
	}
	entries, _ := os.ReadDir(store)
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "form_submission_") {
		t.Errorf("persisted files: %v", entries)
	}
}

func TestDelete(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "doomed.txt")
	os.WriteFile(target, []byte("x"), 0o644)
	os.Mkdir(filepath.Join(root, "dir"), 0o755)
	srv := testServer(root, &config.LocationBlock{Path: "/", Methods: []string{"GET", "DELETE"}})

	resp := Handle(makeRequest(t, "DELETE /doomed.txt HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file still present")
	}

	resp = Handle(makeRequest(t, "DELETE /doomed.txt HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", resp.Status)
	}

	resp = Handle(makeRequest(t, "DELETE /dir HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusForbidden {
		t.Errorf("directory delete: status = %d, want 403", resp.Status)
	}
}

func TestConfiguredErrorPage(t *testing.T) {
	root := t.TempDir()
	page := filepath.Join(root, "404.html")
	os.WriteFile(page, []byte("custom not found"), 0o644)
	srv := testServer(root, &config.LocationBlock{Path: "/", Methods: []string{"GET"}})
	srv.ErrorPages[404] = page

	resp := Handle(makeRequest(t, "GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusNotFound {
		t.Fatalf("status = %d", resp.Status)
	}
	if string(resp.Body) != "custom not found" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestLocationRootOverride(t *testing.T) {
	srvRoot := t.TempDir()
	locRoot := t.TempDir()
	os.WriteFile(filepath.Join(locRoot, "f.txt"), []byte("from-loc"), 0o644)
	srv := testServer(srvRoot,
		&config.LocationBlock{Path: "/special", Methods: []string{"GET"}, Root: locRoot})

	resp := Handle(makeRequest(t, "GET /special/f.txt HTTP/1.1\r\nHost: x\r\n\r\n"), srv, deps())
	if resp.Status != http.StatusOK || string(resp.Body) != "from-loc" {
		t.Errorf("got %d %q", resp.Status, resp.Body)
	}
}
