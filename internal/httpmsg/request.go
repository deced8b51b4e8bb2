package httpmsg

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
)

// Parser limits.
const (
	MaxHeaderFields     = 100
	MaxHeaderValueBytes = 8192
)

type parseState int

const (
	stateAwaitHeaders parseState = iota
	stateAwaitBody
	stateAwaitChunkSize
	stateAwaitChunkData
	stateAwaitTrailers
	stateComplete
)

var knownMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"OPTIONS": true, "TRACE": true, "CONNECT": true, "PATCH": true,
}

// Methods that never carry a request body.
var bodylessMethods = map[string]bool{
	"GET": true, "HEAD": true, "DELETE": true, "OPTIONS": true, "TRACE": true,
}

// Request is the incremental parse state of one HTTP/1.1 request.
type Request struct {
	Method  string
	Version string
	URI     *URI
	Header  *Header
	Body    []byte

	// Set by the handler when the request routes to a CGI script.
	ScriptName string
	PathInfo   string

	state          parseState
	buf            []byte
	contentLength  int
	chunkRemaining int
	chunked        bool
	fieldCount     int
	maxBody        int64
}

// NewRequest returns a parser enforcing the given body-size cap
// (non-positive means uncapped).
func NewRequest(maxBody int64) *Request {
	return &Request{Header: NewHeader(), maxBody: maxBody, contentLength: -1}
}

// Reset prepares the parser for the next pipelined request, keeping any
// bytes already received past the previous message.
func (r *Request) Reset() {
	leftover := r.buf
	*r = Request{Header: NewHeader(), maxBody: r.maxBody, contentLength: -1, buf: leftover}
}

// SetBodyLimit adjusts the effective body-size cap, which is only known once
// the virtual host has been selected.
func (r *Request) SetBodyLimit(n int64) { r.maxBody = n }

// HeadersParsed reports whether the start-line and header block have been
// consumed.
func (r *Request) HeadersParsed() bool { return r.state > stateAwaitHeaders }

// Complete reports whether the whole message has been consumed.
func (r *Request) Complete() bool { return r.state == stateComplete }

// Chunked reports whether the body uses chunked transfer coding.
func (r *Request) Chunked() bool { return r.chunked }

// Buffered reports how many received bytes are not yet consumed. Non-zero
// after completion means a pipelined request follows.
func (r *Request) Buffered() int { return len(r.buf) }

// Feed appends received bytes and advances the state machine as far as the
// buffered input allows.
func (r *Request) Feed(p []byte) *Error {
	r.buf = append(r.buf, p...)
	return r.advance()
}

func (r *Request) advance() *Error {
	for {
		switch r.state {
		case stateAwaitHeaders:
			i := bytes.Index(r.buf, []byte("\r\n\r\n"))
			if i < 0 {
				return nil
			}
			block := string(r.buf[:i])
			r.buf = r.buf[i+4:]
			if err := r.parseHeaderBlock(block); err != nil {
				return err
			}
			if err := r.decideBody(); err != nil {
				return err
			}

		case stateAwaitBody:
			if len(r.buf) < r.contentLength {
				return nil
			}
			r.Body = append(r.Body, r.buf[:r.contentLength]...)
			r.buf = r.buf[r.contentLength:]
			r.state = stateComplete

		case stateAwaitChunkSize:
			i := bytes.Index(r.buf, []byte("\r\n"))
			if i < 0 {
				return nil
			}
			line := string(r.buf[:i])
			r.buf = r.buf[i+2:]
			if j := strings.IndexByte(line, ';'); j >= 0 {
				line = line[:j]
			}
			size, err := strconv.ParseUint(strings.TrimSpace(line), 16, 31)
			if err != nil {
				return NewError(http.StatusBadRequest, "malformed chunk size")
			}
			if size == 0 {
				r.state = stateAwaitTrailers
				continue
			}
			if r.maxBody > 0 && int64(len(r.Body))+int64(size) > r.maxBody {
				return NewError(http.StatusRequestEntityTooLarge, "chunked body exceeds size limit")
			}
			r.chunkRemaining = int(size)
			r.state = stateAwaitChunkData

		case stateAwaitChunkData:
			if len(r.buf) < r.chunkRemaining+2 {
				return nil
			}
			if string(r.buf[r.chunkRemaining:r.chunkRemaining+2]) != "\r\n" {
				return NewError(http.StatusBadRequest, "chunk data not terminated by CRLF")
			}
			r.Body = append(r.Body, r.buf[:r.chunkRemaining]...)
			r.buf = r.buf[r.chunkRemaining+2:]
			r.state = stateAwaitChunkSize

		case stateAwaitTrailers:
			if len(r.buf) >= 2 && r.buf[0] == '\r' && r.buf[1] == '\n' {
				r.buf = r.buf[2:]
				r.state = stateComplete
				continue
			}
			i := bytes.Index(r.buf, []byte("\r\n\r\n"))
			if i < 0 {
				return nil
			}
			r.buf = r.buf[i+4:]
			r.state = stateComplete

		case stateComplete:
			return nil
		}
	}
}

func (r *Request) parseHeaderBlock(block string) *Error {
	lines := strings.Split(block, "\r\n")
	if err := r.parseStartLine(lines[0]); err != nil {
		return err
	}
	for _, line := range lines[1:] {
		if err := r.parseFieldLine(line); err != nil {
			return err
		}
	}
	if r.URI.Host != "" {
		host := r.URI.Host
		if r.URI.Port != 0 && r.URI.Port != 80 {
			host += ":" + strconv.Itoa(r.URI.Port)
		}
		r.Header.Set("Host", host)
	}
	if r.Version == "HTTP/1.1" && !r.Header.Has("Host") {
		return NewError(http.StatusBadRequest, "HTTP/1.1 request without Host header")
	}
	return nil
}

func (r *Request) parseStartLine(line string) *Error {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return NewError(http.StatusBadRequest, "malformed request line")
	}
	method := strings.ToUpper(parts[0])
	if !knownMethods[method] {
		return NewError(http.StatusNotImplemented, "unknown method "+parts[0])
	}
	if parts[2] != "HTTP/1.1" && parts[2] != "HTTP/1.0" {
		return NewError(http.StatusHTTPVersionNotSupported, "unsupported protocol version "+parts[2])
	}
	uri, uerr := ParseURI(parts[1])
	if uerr != nil {
		return uerr
	}
	r.Method = method
	r.Version = parts[2]
	r.URI = uri
	return nil
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

func (r *Request) parseFieldLine(line string) *Error {
	if line == "" {
		return NewError(http.StatusBadRequest, "empty header line")
	}
	if line[0] == ' ' || line[0] == '\t' {
		return NewError(http.StatusBadRequest, "obsolete header folding not allowed")
	}
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return NewError(http.StatusBadRequest, "header line without field name")
	}
	name := line[:colon]
	if strings.ContainsAny(name, " \t") {
		return NewError(http.StatusBadRequest, "whitespace before colon in header field")
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return NewError(http.StatusBadRequest, "invalid character in header field name")
		}
	}
	value := strings.Trim(line[colon+1:], " \t")
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\t' && (c < ' ' || c == 0x7f) {
			return NewError(http.StatusBadRequest, "invalid character in header field value")
		}
	}
	if len(value) > MaxHeaderValueBytes {
		return NewError(http.StatusRequestHeaderFieldsTooLarge, "header field value too large")
	}
	r.fieldCount++
	if r.fieldCount > MaxHeaderFields {
		return NewError(http.StatusRequestHeaderFieldsTooLarge, "too many header fields")
	}
	r.Header.Add(name, value)
	return nil
}

func (r *Request) decideBody() *Error {
	if bodylessMethods[r.Method] || r.Method == "CONNECT" {
		r.state = stateComplete
		return nil
	}

	te := r.Header.Get("Transfer-Encoding")
	hasCL := r.Header.Has("Content-Length")
	switch {
	case te != "" && hasCL:
		return NewError(http.StatusBadRequest, "both Content-Length and Transfer-Encoding present")
	case te != "":
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return NewError(http.StatusNotImplemented, "unsupported transfer coding "+te)
		}
		r.chunked = true
		r.state = stateAwaitChunkSize
		return nil
	case hasCL:
		n, err := strconv.Atoi(strings.TrimSpace(r.Header.Get("Content-Length")))
		if err != nil || n < 0 {
			return NewError(http.StatusBadRequest, "malformed Content-Length")
		}
		if r.maxBody > 0 && int64(n) > r.maxBody {
			return NewError(http.StatusRequestEntityTooLarge, "declared body exceeds size limit")
		}
		r.contentLength = n
		if n == 0 {
			r.state = stateComplete
		} else {
			r.state = stateAwaitBody
		}
		return nil
	default:
		if len(r.buf) > 0 {
			return NewError(http.StatusLengthRequired, "request body without length information")
		}
		r.state = stateComplete
		return nil
	}
}
