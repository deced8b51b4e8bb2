package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/httpmsg"
)

var implementedMethods = []string{"GET", "POST", "DELETE"}

// ErrorResponse builds the response for a protocol error: a configured
// error page when one loads, else the default page. 405 always carries
// Allow. srv and loc may be nil when the error predates routing.
func ErrorResponse(err *httpmsg.Error, srv *config.ServerBlock, loc *config.LocationBlock) *httpmsg.Response {
	var resp *httpmsg.Response
	if body, ok := loadErrorPage(err.Status, srv, loc); ok {
		resp = httpmsg.NewResponse()
		resp.Status = err.Status
		resp.SetBody(body, "text/html")
	} else {
		stylesheet := ""
		if srv != nil {
			stylesheet = srv.Stylesheet
		}
		resp = httpmsg.ErrorResponse(err.Status, stylesheet)
	}
	if err.Status == http.StatusMethodNotAllowed {
		resp.Header.Set("Allow", allowedMethodList(loc))
	}
	return resp
}

func loadErrorPage(status int, srv *config.ServerBlock, loc *config.LocationBlock) ([]byte, bool) {
	var page string
	if loc != nil {
		page = loc.ErrorPages[status]
	}
	if page == "" && srv != nil {
		page = srv.ErrorPages[status]
	}
	if page == "" {
		return nil, false
	}
	if body, err := os.ReadFile(page); err == nil {
		return body, true
	}
	if srv != nil && srv.Root != "" {
		if body, err := os.ReadFile(filepath.Join(srv.Root, page)); err == nil {
			return body, true
		}
	}
	return nil, false
}

// allowedMethodList is the implemented subset of the location's methods, or
// every implemented method when the location is unknown or that subset is
// empty.
func allowedMethodList(loc *config.LocationBlock) string {
	if loc == nil {
		return strings.Join(implementedMethods, ", ")
	}
	var out []string
	for _, m := range implementedMethods {
		if loc.AllowsMethod(m) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return strings.Join(implementedMethods, ", ")
	}
	return strings.Join(out, ", ")
}
