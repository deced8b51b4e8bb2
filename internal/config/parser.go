package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, string(src))
}

// Parse parses configuration text. The file name is used in error positions.
func Parse(file, src string) (*Config, error) {
	toks, terr := newTokenizer(file, src).tokens()
	if terr != nil {
		return nil, terr
	}
	p := &parser{file: file, toks: toks}
	cfg, perr := p.parse()
	if perr != nil {
		return nil, perr
	}
	if verr := validate(file, cfg); verr != nil {
		return nil, verr
	}
	finalize(cfg)
	return cfg, nil
}

type parser struct {
	file string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) take() token {
	t := p.toks[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, *Error) {
	t := p.take()
	if t.kind != kind {
		return t, errAt(p.file, t.line, t.col, "expected %s, found %q", what, t.String())
	}
	return t, nil
}

func (p *parser) parse() (*Config, *Error) {
	cfg := &Config{}
	for {
		t := p.take()
		switch {
		case t.kind == tokenEOF:
			if len(cfg.Servers) == 0 {
				return nil, errAt(p.file, t.line, t.col, "no server block defined")
			}
			return cfg, nil
		case t.kind == tokenWord && t.text == "server":
			srv, err := p.parseServer()
			if err != nil {
				return nil, err
			}
			cfg.Servers = append(cfg.Servers, srv)
		default:
			return nil, errAt(p.file, t.line, t.col, "expected server block, found %q", t.String())
		}
	}
}

// args reads word tokens up to the terminating semicolon.
func (p *parser) args(directive token) ([]token, *Error) {
	var out []token
	for {
		t := p.take()
		switch t.kind {
		case tokenWord:
			out = append(out, t)
		case tokenSemicolon:
			return out, nil
		default:
			return nil, errAt(p.file, t.line, t.col,
				"unterminated %q directive: found %q", directive.text, t.String())
		}
	}
}

func (p *parser) fixedArgs(directive token, n int) ([]token, *Error) {
	out, err := p.args(directive)
	if err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, errAt(p.file, directive.line, directive.col,
			"%q takes %d argument(s), got %d", directive.text, n, len(out))
	}
	return out, nil
}

func (p *parser) parseServer() (*ServerBlock, *Error) {
	if _, err := p.expect(tokenOpenBrace, "'{'"); err != nil {
		return nil, err
	}
	srv := &ServerBlock{
		MaxBodySize: DefaultMaxBodySize,
		CGITimeout:  DefaultCGITimeout,
		ErrorPages:  make(map[int]string),
	}
	for {
		t := p.take()
		if t.kind == tokenCloseBrace {
			return srv, nil
		}
		if t.kind != tokenWord {
			return nil, errAt(p.file, t.line, t.col, "expected directive, found %q", t.String())
		}
		switch t.text {
		case "listen":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			listen, lerr := parseListen(p.file, arg[0])
			if lerr != nil {
				return nil, lerr
			}
			srv.Listens = append(srv.Listens, listen)
		case "server_name":
			names, err := p.args(t)
			if err != nil {
				return nil, err
			}
			if len(names) == 0 {
				return nil, errAt(p.file, t.line, t.col, "server_name requires at least one name")
			}
			for _, n := range names {
				srv.Names = append(srv.Names, NormalizeHostName(n.text))
			}
		case "root":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			srv.Root = arg[0].text
		case "client_max_body_size":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			size, serr := parseSize(p.file, arg[0])
			if serr != nil {
				return nil, serr
			}
			srv.MaxBodySize = size
		case "error_page":
			if err := p.parseErrorPage(t, srv.ErrorPages); err != nil {
				return nil, err
			}
		case "default_server", "default":
			if _, err := p.fixedArgs(t, 0); err != nil {
				return nil, err
			}
			srv.Default = true
		case "default_stylesheet":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			srv.Stylesheet = arg[0].text
		case "cgi_timeout":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			secs, serr := strconv.Atoi(arg[0].text)
			if serr != nil || secs < 1 {
				return nil, errAt(p.file, arg[0].line, arg[0].col, "invalid cgi_timeout %q", arg[0].text)
			}
			srv.CGITimeout = time.Duration(secs) * time.Second
		case "location":
			loc, err := p.parseLocation()
			if err != nil {
				return nil, err
			}
			srv.Locations = append(srv.Locations, loc)
		default:
			return nil, errAt(p.file, t.line, t.col, "unknown server directive %q", t.text)
		}
	}
}

func (p *parser) parseErrorPage(directive token, pages map[int]string) *Error {
	args, err := p.args(directive)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errAt(p.file, directive.line, directive.col, "error_page requires codes and a path")
	}
	path := args[len(args)-1].text
	for _, a := range args[:len(args)-1] {
		code, cerr := strconv.Atoi(a.text)
		if cerr != nil || code < 300 || code > 599 {
			return errAt(p.file, a.line, a.col, "invalid error_page status code %q", a.text)
		}
		pages[code] = path
	}
	return nil
}

func (p *parser) parseLocation() (*LocationBlock, *Error) {
	loc := &LocationBlock{
		CGIHandlers: make(map[string]string),
		ErrorPages:  make(map[int]string),
	}
	t := p.take()
	if t.kind == tokenEquals {
		loc.Exact = true
		t = p.take()
	}
	if t.kind != tokenWord {
		return nil, errAt(p.file, t.line, t.col, "expected location path, found %q", t.String())
	}
	loc.Path = t.text
	if _, err := p.expect(tokenOpenBrace, "'{'"); err != nil {
		return nil, err
	}
	for {
		t := p.take()
		if t.kind == tokenCloseBrace {
			if len(loc.Methods) == 0 {
				loc.Methods = []string{"GET"}
			}
			return loc, nil
		}
		if t.kind != tokenWord {
			return nil, errAt(p.file, t.line, t.col, "expected directive, found %q", t.String())
		}
		switch t.text {
		case "methods", "limit_except":
			args, err := p.args(t)
			if err != nil {
				return nil, err
			}
			if len(args) == 0 {
				return nil, errAt(p.file, t.line, t.col, "%s requires at least one method", t.text)
			}
			for _, a := range args {
				m := strings.ToUpper(a.text)
				if !validMethodName(m) {
					return nil, errAt(p.file, a.line, a.col, "unknown method %q", a.text)
				}
				loc.Methods = append(loc.Methods, m)
			}
		case "root":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			loc.Root = arg[0].text
		case "index":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			loc.Index = arg[0].text
		case "autoindex":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			switch arg[0].text {
			case "on", "true", "1":
				loc.Autoindex = true
			case "off", "false", "0":
				loc.Autoindex = false
			default:
				return nil, errAt(p.file, arg[0].line, arg[0].col, "invalid autoindex value %q", arg[0].text)
			}
		case "return", "redirect":
			args, err := p.args(t)
			if err != nil {
				return nil, err
			}
			red := &Redirect{Code: 302}
			switch len(args) {
			case 1:
				red.URL = args[0].text
			case 2:
				code, cerr := strconv.Atoi(args[0].text)
				if cerr != nil || !validRedirectCode(code) {
					return nil, errAt(p.file, args[0].line, args[0].col, "invalid redirect status %q", args[0].text)
				}
				red.Code = code
				red.URL = args[1].text
			default:
				return nil, errAt(p.file, t.line, t.col, "%s takes [code] url", t.text)
			}
			loc.Redirect = red
		case "client_max_body_size":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			size, serr := parseSize(p.file, arg[0])
			if serr != nil {
				return nil, serr
			}
			loc.MaxBodySize = size
			loc.bodySizeSet = true
		case "upload_store":
			arg, err := p.fixedArgs(t, 1)
			if err != nil {
				return nil, err
			}
			loc.UploadStore = arg[0].text
		case "error_page":
			if err := p.parseErrorPage(t, loc.ErrorPages); err != nil {
				return nil, err
			}
		case "cgi_handler":
			args, err := p.fixedArgs(t, 2)
			if err != nil {
				return nil, err
			}
			ext := strings.ToLower(args[0].text)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			loc.CGIHandlers[ext] = args[1].text
		default:
			return nil, errAt(p.file, t.line, t.col, "unknown location directive %q", t.text)
		}
	}
}

func validMethodName(m string) bool {
	switch m {
	case "GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "TRACE", "CONNECT", "PATCH":
		return true
	}
	return false
}

func validRedirectCode(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

func parseListen(file string, arg token) (Listen, *Error) {
	text := arg.text
	if port, err := strconv.Atoi(text); err == nil {
		if port < 1 || port > 65535 {
			return Listen{}, errAt(file, arg.line, arg.col, "listen port %d out of range", port)
		}
		return Listen{Port: port}, nil
	}
	if host, portText, found := strings.Cut(text, ":"); found {
		port, err := strconv.Atoi(portText)
		if err != nil || port < 1 || port > 65535 {
			return Listen{}, errAt(file, arg.line, arg.col, "invalid listen port in %q", text)
		}
		return Listen{Host: host, Port: port}, nil
	}
	return Listen{Host: text, Port: DefaultHTTPPort}, nil
}

func parseSize(file string, arg token) (int64, *Error) {
	text := arg.text
	if text == "" {
		return 0, errAt(file, arg.line, arg.col, "empty size value")
	}
	multiplier := int64(1)
	switch text[len(text)-1] {
	case 'k', 'K':
		multiplier = 1 << 10
		text = text[:len(text)-1]
	case 'm', 'M':
		multiplier = 1 << 20
		text = text[:len(text)-1]
	case 'g', 'G':
		multiplier = 1 << 30
		text = text[:len(text)-1]
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n < 0 {
		return 0, errAt(file, arg.line, arg.col, "invalid size %q", arg.text)
	}
	size := n * multiplier
	if size > MaxBodySizeCap {
		return 0, errAt(file, arg.line, arg.col, "size %q exceeds the 1 GiB cap", arg.text)
	}
	return size, nil
}

func validate(file string, cfg *Config) *Error {
	type nameKey struct {
		name string
		port int
	}
	seenNames := make(map[nameKey]bool)
	seenDefaults := make(map[Listen]bool)

	for _, srv := range cfg.Servers {
		if len(srv.Listens) == 0 {
			return errAt(file, 1, 1, "server block has no listen directive")
		}
		if srv.Root == "" {
			return errAt(file, 1, 1, "server block has no root")
		}
		for _, l := range srv.Listens {
			if srv.Default {
				if seenDefaults[l] {
					return errAt(file, 1, 1, "multiple default servers for %s:%d", l.Host, l.Port)
				}
				seenDefaults[l] = true
			}
			for _, name := range srv.Names {
				key := nameKey{name, l.Port}
				if seenNames[key] {
					return errAt(file, 1, 1, "duplicate server name %q on port %d", name, l.Port)
				}
				seenNames[key] = true
			}
		}
		if err := validateLocations(file, srv); err != nil {
			return err
		}
	}
	return nil
}

func validateLocations(file string, srv *ServerBlock) *Error {
	seenExact := make(map[string]bool)
	seenPrefix := make(map[string]bool)
	for _, loc := range srv.Locations {
		if !strings.HasPrefix(loc.Path, "/") {
			return errAt(file, 1, 1, "location path %q must start with '/'", loc.Path)
		}
		seenMethod := make(map[string]bool)
		for _, m := range loc.Methods {
			if seenMethod[m] {
				return errAt(file, 1, 1, "duplicate method %q in location %q", m, loc.Path)
			}
			seenMethod[m] = true
		}
		if loc.Redirect != nil {
			if loc.Index != "" || loc.Autoindex || loc.UploadStore != "" || loc.Root != "" {
				return errAt(file, 1, 1,
					"location %q: redirect excludes index, autoindex, upload_store and root", loc.Path)
			}
		} else if !loc.CGIEnabled() && loc.Root == "" && srv.Root == "" {
			return errAt(file, 1, 1, "location %q has no resolvable root", loc.Path)
		}
		seen := seenPrefix
		if loc.Exact {
			seen = seenExact
		}
		if seen[loc.Path] {
			return errAt(file, 1, 1, "duplicate location %q", loc.Path)
		}
		seen[loc.Path] = true
	}
	return nil
}

// finalize applies inheritance once validation has passed.
func finalize(cfg *Config) {
	for _, srv := range cfg.Servers {
		for _, loc := range srv.Locations {
			if !loc.bodySizeSet {
				loc.MaxBodySize = srv.MaxBodySize
			}
		}
	}
}
