package handler

import (
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/httpmsg"
)

func serveGet(fsPath, urlPath string, loc *config.LocationBlock) (*httpmsg.Response, *httpmsg.Error) {
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, statError(err, fsPath)
	}

	if info.IsDir() {
		if loc.Index != "" {
			index := filepath.Join(fsPath, loc.Index)
			if ii, ierr := os.Stat(index); ierr == nil && ii.Mode().IsRegular() {
				return serveFile(index)
			}
		}
		if loc.Autoindex {
			return serveListing(fsPath, urlPath)
		}
		return nil, httpmsg.NewError(http.StatusForbidden, "directory listing denied")
	}
	if !info.Mode().IsRegular() {
		return nil, httpmsg.NewError(http.StatusForbidden, "not a regular file")
	}
	return serveFile(fsPath)
}

func serveFile(fsPath string) (*httpmsg.Response, *httpmsg.Error) {
	body, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, statError(err, fsPath)
	}
	resp := httpmsg.NewResponse()
	resp.SetBody(body, httpmsg.ContentTypeFor(fsPath))
	return resp, nil
}

func statError(err error, fsPath string) *httpmsg.Error {
	switch {
	case os.IsNotExist(err):
		return httpmsg.NewError(http.StatusNotFound, fsPath+" not found")
	case os.IsPermission(err):
		return httpmsg.NewError(http.StatusForbidden, "permission denied for "+fsPath)
	}
	return httpmsg.NewError(http.StatusInternalServerError, err.Error())
}

// serveListing renders the autoindex page: sorted entries, directories with
// a trailing slash first, hidden files omitted, and a parent link.
func serveListing(fsPath, urlPath string) (*httpmsg.Response, *httpmsg.Error) {
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		return nil, statError(err, fsPath)
	}

	var dirs, files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, name+"/")
		} else {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)

	base := urlPath
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	var b strings.Builder
	title := html.EscapeString(urlPath)
	fmt.Fprintf(&b, "<html><head><title>Index of %s</title></head><body>\n", title)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n", title)
	if urlPath != "/" {
		b.WriteString("<p><a href=\"../\"><button>Parent directory</button></a></p>\n")
	}
	b.WriteString("<ul>\n")
	for _, name := range append(dirs, files...) {
		escaped := html.EscapeString(name)
		fmt.Fprintf(&b, "<li><a href=\"%s%s\">%s</a></li>\n", base, escaped, escaped)
	}
	b.WriteString("</ul>\n</body></html>\n")

	resp := httpmsg.NewResponse()
	resp.SetBody([]byte(b.String()), "text/html")
	return resp, nil
}
