package handler

import (
	"net/http"
	"strings"

	"github.com/ulsgks/webserv/internal/httpmsg"
	"github.com/ulsgks/webserv/internal/logging"
)

var sensitivePatterns = []string{
	"/.git", "/.svn", "/.env", "/.htaccess", "/.htpasswd", "/.DS_Store",
	"/Makefile", "/config", "/README.md",
}

// Extensions never served as plain files.
var blockedStaticExtensions = []string{
	".conf", ".cpp", ".hpp", ".c", ".h", ".py", ".js", ".go", ".o",
	".a", ".so", ".cgi", ".php", ".pl", ".sh", ".rb",
}

// The only extensions a CGI script path may carry.
var allowedCGIExtensions = []string{".cgi", ".php", ".py", ".pl", ".sh", ".rb"}

// validateFileAccess rejects traversal attempts and sensitive resources
// before any filesystem access. rawPath is the request target as received
// (with its query already stripped); cleanPath is the decoded, normalized
// path the extension and hidden-file rules apply to.
func validateFileAccess(rawPath, cleanPath string, cgiScript bool) *httpmsg.Error {
	if isTraversalAttempt(rawPath) || isTraversalAttempt(cleanPath) {
		logging.Warnf("directory traversal attempt: %s", rawPath)
		return httpmsg.NewError(http.StatusForbidden, "directory traversal not allowed")
	}
	if isSensitiveResource(cleanPath, cgiScript) {
		logging.Warnf("access attempt to sensitive resource: %s", cleanPath)
		return httpmsg.NewError(http.StatusForbidden, "access denied to sensitive resource")
	}
	return nil
}

func isTraversalAttempt(path string) bool {
	return strings.Contains(path, "../") || strings.Contains(path, "..\\") || path == ".."
}

func isSensitiveResource(path string, cgiScript bool) bool {
	// Hidden files and directories (last segment starting with a dot).
	if i := strings.LastIndexByte(path, '/'); i >= 0 && i+1 < len(path) && path[i+1] == '.' {
		return true
	}
	for _, pattern := range sensitivePatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	if cgiScript {
		for _, ext := range allowedCGIExtensions {
			if strings.HasSuffix(path, ext) {
				return false
			}
		}
		return true
	}
	for _, ext := range blockedStaticExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
