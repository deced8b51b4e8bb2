// Package config holds the server and location configuration tree consumed
// by the event loop, the handler, and the CGI orchestrator.
package config

import (
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Defaults applied when a directive is absent.
const (
	DefaultMaxBodySize = 1 << 20 // 1 MiB
	MaxBodySizeCap     = 1 << 30 // 1 GiB
	DefaultCGITimeout  = 5 * time.Second
	DefaultHTTPPort    = 80
)

// Listen is one bind tuple.
type Listen struct {
	Host string
	Port int
}

// Redirect is a location's configured redirect target.
type Redirect struct {
	Code int
	URL  string
}

// LocationBlock is a route inside a virtual host.
type LocationBlock struct {
	Path        string
	Exact       bool
	Methods     []string
	Root        string
	Index       string
	Autoindex   bool
	Redirect    *Redirect
	MaxBodySize int64
	UploadStore string
	CGIHandlers map[string]string // ".ext" -> interpreter path, "" means direct exec
	ErrorPages  map[int]string

	bodySizeSet bool
}

// CGIEnabled reports whether this location routes matching extensions to CGI.
func (l *LocationBlock) CGIEnabled() bool { return len(l.CGIHandlers) > 0 }

// AllowsMethod reports whether the method is in the location's allowed set.
func (l *LocationBlock) AllowsMethod(method string) bool {
	for _, m := range l.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// ServerBlock is one virtual host.
type ServerBlock struct {
	Listens     []Listen
	Names       []string // normalized for matching
	Default     bool
	Root        string
	MaxBodySize int64
	ErrorPages  map[int]string
	Stylesheet  string
	CGITimeout  time.Duration
	Locations   []*LocationBlock
}

// ListensOn reports whether the block is bound to the port.
func (s *ServerBlock) ListensOn(port int) bool {
	for _, l := range s.Listens {
		if l.Port == port {
			return true
		}
	}
	return false
}

// HasName reports whether the normalized host matches one of the block's
// server names.
func (s *ServerBlock) HasName(host string) bool {
	for _, n := range s.Names {
		if n == host {
			return true
		}
	}
	return false
}

// FindLocation selects the location for a request path: an exact-match
// location whose path equals the request path wins; otherwise the longest
// prefix location whose path is a prefix of the request path ending at a
// segment boundary. Returns nil when nothing matches.
func (s *ServerBlock) FindLocation(path string) *LocationBlock {
	for _, loc := range s.Locations {
		if loc.Exact && loc.Path == path {
			return loc
		}
	}
	var best *LocationBlock
	for _, loc := range s.Locations {
		if loc.Exact || !prefixMatches(loc.Path, path) {
			continue
		}
		if best == nil || len(loc.Path) > len(best.Path) {
			best = loc
		}
	}
	return best
}

// The prefix must end at a '/' boundary or match the whole path.
func prefixMatches(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) ||
		strings.HasSuffix(prefix, "/") ||
		path[len(prefix)] == '/'
}

// Config is the loaded configuration tree, read-only after startup.
type Config struct {
	Servers []*ServerBlock
}

// ServersForPort returns the blocks bound to port, in file order.
func (c *Config) ServersForPort(port int) []*ServerBlock {
	var out []*ServerBlock
	for _, s := range c.Servers {
		if s.ListensOn(port) {
			out = append(out, s)
		}
	}
	return out
}

// DefaultServer returns the block serving requests on port when no server
// name matches: the one flagged default_server, else the first bound.
func (c *Config) DefaultServer(port int) *ServerBlock {
	blocks := c.ServersForPort(port)
	for _, s := range blocks {
		if s.Default {
			return s
		}
	}
	if len(blocks) > 0 {
		return blocks[0]
	}
	return nil
}

// SelectVirtualHost picks the block for a Host header value on a port,
// falling back to the port's default server.
func (c *Config) SelectVirtualHost(port int, host string) *ServerBlock {
	normalized := NormalizeHostName(host)
	for _, s := range c.ServersForPort(port) {
		if s.HasName(normalized) {
			return s
		}
	}
	return c.DefaultServer(port)
}

// NormalizeHostName case-folds, strips a trailing dot, and maps
// internationalized names to their ASCII form.
func NormalizeHostName(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		return ascii
	}
	return host
}
