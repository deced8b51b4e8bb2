// Package handler dispatches parsed requests to static files, uploads,
// deletions, redirects, CGI, and error pages.
package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulsgks/webserv/internal/cgi"
	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/httpmsg"
)

// cgiPendingHeader marks a response as a placeholder while a CGI child runs;
// the connection holds the real response until the child completes.
const cgiPendingHeader = "X-CGI-Processing"

// CGIPending reports whether resp is the CGI placeholder.
func CGIPending(resp *httpmsg.Response) bool {
	return resp.Header.Get(cgiPendingHeader) == "true"
}

// Deps carries the connection-scoped inputs for one dispatch.
type Deps struct {
	ServerPort int
	RemoteAddr string
	CGI        *cgi.State
}

// Handle produces the response for a completed request, translating any
// protocol error through the configured error pages.
func Handle(req *httpmsg.Request, srv *config.ServerBlock, deps Deps) *httpmsg.Response {
	loc := srv.FindLocation(req.URI.Path)
	resp, err := dispatch(req, srv, loc, deps)
	if err != nil {
		return ErrorResponse(err, srv, loc)
	}
	return resp
}

func dispatch(req *httpmsg.Request, srv *config.ServerBlock, loc *config.LocationBlock, deps Deps) (*httpmsg.Response, *httpmsg.Error) {
	if loc == nil {
		return nil, httpmsg.NewError(http.StatusNotFound, "no matching location for "+req.URI.Path)
	}

	if loc.Redirect != nil {
		return httpmsg.RedirectResponse(loc.Redirect.Code, loc.Redirect.URL), nil
	}

	if req.Method == "TRACE" {
		return nil, httpmsg.NewError(http.StatusNotImplemented, "TRACE is not supported")
	}
	if req.Method != "GET" && req.Method != "POST" && req.Method != "DELETE" {
		return nil, httpmsg.NewError(http.StatusMethodNotAllowed, req.Method+" is not implemented")
	}
	if !loc.AllowsMethod(req.Method) {
		return nil, httpmsg.NewError(http.StatusMethodNotAllowed, req.Method+" not allowed on "+loc.Path)
	}

	rawPath := rawPathOf(req.URI.Raw)

	if loc.CGIEnabled() {
		if scriptFS, scriptURL, pathInfo, found := detectCGIScript(req.URI.Path, srv, loc); found {
			if err := validateFileAccess(rawPath, scriptURL, true); err != nil {
				return nil, err
			}
			req.ScriptName = scriptURL
			req.PathInfo = pathInfo
			if err := deps.CGI.Start(req, scriptFS, loc, cgi.Params{
				ServerPort: deps.ServerPort,
				RemoteAddr: deps.RemoteAddr,
				Timeout:    srv.CGITimeout,
			}); err != nil {
				return nil, err
			}
			marker := httpmsg.NewResponse()
			marker.Header.Set(cgiPendingHeader, "true")
			return marker, nil
		}
	}

	if err := validateFileAccess(rawPath, req.URI.Path, false); err != nil {
		return nil, err
	}

	fsPath := resolvePath(req.URI.Path, srv, loc)
	switch req.Method {
	case "GET":
		return serveGet(fsPath, req.URI.Path, loc)
	case "POST":
		return servePost(req, loc)
	default:
		return serveDelete(fsPath)
	}
}

// rawPathOf strips the query from the request target as received.
func rawPathOf(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// resolvePath maps a request path onto the filesystem: the location's root
// if set, else the server's; exact-match locations serve their index.
func resolvePath(urlPath string, srv *config.ServerBlock, loc *config.LocationBlock) string {
	root := loc.Root
	if root == "" {
		root = srv.Root
	}
	if loc.Exact {
		return filepath.Join(root, loc.Index)
	}
	remainder := strings.TrimPrefix(urlPath, strings.TrimSuffix(loc.Path, "/"))
	return filepath.Join(root, remainder)
}

// detectCGIScript walks the path segment by segment looking for the first
// segment that names an existing regular file with a CGI extension. The rest
// of the path becomes PATH_INFO.
func detectCGIScript(urlPath string, srv *config.ServerBlock, loc *config.LocationBlock) (fsPath, scriptURL, pathInfo string, found bool) {
	segments := strings.Split(strings.TrimPrefix(urlPath, "/"), "/")
	prefix := ""
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		prefix += "/" + seg
		ext := strings.ToLower(filepath.Ext(seg))
		if ext == "" {
			continue
		}
		_, handled := loc.CGIHandlers[ext]
		if ext != ".cgi" && !handled {
			continue
		}
		fs := resolvePath(prefix, srv, loc)
		if info, err := os.Stat(fs); err == nil && info.Mode().IsRegular() {
			return fs, prefix, urlPath[len(prefix):], true
		}
	}
	return "", "", "", false
}
