package cgi

import (
	"strconv"
	"strings"

	"github.com/ulsgks/webserv/internal/httpmsg"
)

// Meta-variables handed to the child, RFC 3875 section 4.1.

// fallback when the peer address is unknown
const defaultRemoteAddr = "127.0.0.1"

// BuildEnv constructs the complete CGI environment for one request. The
// child receives only these variables.
func BuildEnv(req *httpmsg.Request, scriptPath string, serverPort int, remoteAddr string) []string {
	if remoteAddr == "" {
		remoteAddr = defaultRemoteAddr
	}
	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_SOFTWARE=" + httpmsg.ServerSoftware,
		"SERVER_PROTOCOL=" + req.Version,
		"SERVER_NAME=" + req.Header.Get("Host"),
		"SERVER_PORT=" + strconv.Itoa(serverPort),
		"REQUEST_METHOD=" + req.Method,
		"REQUEST_URI=" + req.URI.RequestTarget(),
		"QUERY_STRING=" + req.URI.Query,
		"CONTENT_TYPE=" + req.Header.Get("Content-Type"),
		"SCRIPT_NAME=" + req.ScriptName,
		"SCRIPT_FILENAME=" + scriptPath,
		"PATH_INFO=" + req.PathInfo,
		"PATH_TRANSLATED=",
		"REMOTE_ADDR=" + remoteAddr,
		"REMOTE_HOST=" + remoteAddr,
	}
	if req.Header.Has("Content-Length") || len(req.Body) > 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.Itoa(len(req.Body)))
	}

	// Request headers become HTTP_* variables, one entry per name with
	// repeated fields joined by ", ".
	var order []string
	values := make(map[string][]string)
	for _, f := range req.Header.Fields() {
		key := metaVarName(f.Name)
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = append(values[key], f.Value)
	}
	for _, key := range order {
		env = append(env, key+"="+strings.Join(values[key], ", "))
	}
	return env
}

func metaVarName(header string) string {
	var b strings.Builder
	b.WriteString("HTTP_")
	for i := 0; i < len(header); i++ {
		c := header[i]
		switch {
		case c == '-':
			b.WriteByte('_')
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - ('a' - 'A'))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
