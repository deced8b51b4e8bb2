package server

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ulsgks/webserv/internal/cgi"
	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/handler"
	"github.com/ulsgks/webserv/internal/httpmsg"
	"github.com/ulsgks/webserv/internal/logging"
)

const (
	readChunkSize     = 32768
	idleTimeout       = 60 * time.Second
	maxRequestsPerCon = 100
)

// Statuses that must close the connection once the response has drained,
// in addition to every 5xx.
var forceCloseStatuses = map[int]bool{
	http.StatusBadRequest:            true,
	http.StatusRequestTimeout:        true,
	http.StatusLengthRequired:        true,
	http.StatusRequestEntityTooLarge: true,
	http.StatusRequestURITooLong:     true,
	http.StatusUnsupportedMediaType:  true,
}

type connState int

const (
	connIdle connState = iota
	connParsing
	connHandling
	connSending
	connClosing
)

// conn is the per-client state machine.
type conn struct {
	fd         int
	localPort  int
	remoteAddr string
	cfg        *config.Config
	srv        *config.ServerBlock // selected virtual host

	state        connState
	lastActivity time.Time
	shouldClose  bool
	stopReading  bool
	closed       bool
	served       int

	out    []byte
	outOff int

	req       *httpmsg.Request
	cgi       cgi.State
	stdoutEOF bool
}

func newConn(fd, localPort int, remoteAddr string, cfg *config.Config, srv *config.ServerBlock) *conn {
	maxBody := int64(config.DefaultMaxBodySize)
	if srv != nil {
		maxBody = srv.MaxBodySize
	}
	return &conn{
		fd:           fd,
		localPort:    localPort,
		remoteAddr:   remoteAddr,
		cfg:          cfg,
		srv:          srv,
		lastActivity: time.Now(),
		req:          httpmsg.NewRequest(maxBody),
	}
}

func (c *conn) wantsWrite() bool { return len(c.out) > c.outOff }

func (c *conn) idleExpired(now time.Time) bool {
	return now.Sub(c.lastActivity) > idleTimeout
}

// onReadable consumes one chunk from the socket and advances the request
// state machine.
func (c *conn) onReadable(now time.Time) {
	if c.stopReading {
		return
	}
	buf := make([]byte, readChunkSize)
	n, err := unix.Read(c.fd, buf)
	switch {
	case n > 0:
		c.lastActivity = now
		c.state = connParsing
		c.feed(buf[:n], now)
	case n == 0 && err == nil:
		// Peer closed; drain pending writes then tear down.
		c.stopReading = true
		c.shouldClose = true
		if !c.wantsWrite() {
			c.closed = true
		}
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
	default:
		logging.Debugf("conn fd %d: read error: %v", c.fd, err)
		c.closed = true
	}
}

func (c *conn) feed(p []byte, now time.Time) {
	if perr := c.req.Feed(p); perr != nil {
		logging.Debugf("conn fd %d: parse error: %v", c.fd, perr)
		c.stopReading = true
		c.shouldClose = true
		c.queueResponse(handler.ErrorResponse(perr, c.srv, nil), "", "")
		return
	}
	if c.req.Complete() {
		c.handleRequest(now)
	}
}

// handleRequest runs the handler for a completed request, after the lazy
// virtual-host re-selection.
func (c *conn) handleRequest(now time.Time) {
	c.state = connHandling
	c.selectVirtualHost()

	resp := handler.Handle(c.req, c.srv, handler.Deps{
		ServerPort: c.localPort,
		RemoteAddr: c.remoteAddr,
		CGI:        &c.cgi,
	})
	if handler.CGIPending(resp) {
		// Stay in HANDLING until the child completes; the server watches
		// the pipe ends.
		c.stdoutEOF = false
		return
	}
	c.finishRequest(resp)
}

func (c *conn) selectVirtualHost() {
	host := c.req.Header.Get("Host")
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if host != "" {
		if srv := c.cfg.SelectVirtualHost(c.localPort, host); srv != nil {
			c.srv = srv
		}
	}
}

// finishRequest decides connection fate, stamps the Connection header, and
// queues the response bytes.
func (c *conn) finishRequest(resp *httpmsg.Response) {
	c.served++
	keep := c.keepAlive(resp.Status)
	if c.served >= maxRequestsPerCon {
		keep = false
	}
	if keep {
		resp.Header.Set("Connection", "keep-alive")
	} else {
		resp.Header.Set("Connection", "close")
		c.shouldClose = true
	}
	c.queueResponse(resp, c.req.Method, c.req.URI.Path)
}

func (c *conn) keepAlive(status int) bool {
	if status >= 500 || forceCloseStatuses[status] {
		return false
	}
	connHeader := strings.ToLower(c.req.Header.Get("Connection"))
	switch c.req.Version {
	case "HTTP/1.0":
		return connHeader == "keep-alive"
	case "HTTP/1.1":
		return connHeader != "close"
	}
	return false
}

func (c *conn) queueResponse(resp *httpmsg.Response, method, path string) {
	if method != "" {
		logging.Access(method, path, resp.Status)
	}
	c.out = append(c.out[c.outOff:], resp.Bytes()...)
	c.outOff = 0
	c.state = connSending
}

// onWritable flushes the outbound buffer. Once drained it either tears the
// connection down or resets the parser for the next pipelined request.
func (c *conn) onWritable(now time.Time) {
	if !c.wantsWrite() {
		return
	}
	n, err := unix.Write(c.fd, c.out[c.outOff:])
	if n > 0 {
		c.outOff += n
		c.lastActivity = now
	} else if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		logging.Debugf("conn fd %d: write error: %v", c.fd, err)
		c.closed = true
		return
	}
	if c.wantsWrite() {
		return
	}
	c.out = nil
	c.outOff = 0
	if c.shouldClose {
		c.closed = true
		return
	}
	c.state = connIdle
	// The parser resets only here, after the response finished sending;
	// pipelined bytes already received carry over.
	c.req.Reset()
	if c.srv != nil {
		c.req.SetBodyLimit(c.srv.MaxBodySize)
	}
	if c.req.Buffered() > 0 {
		c.feed(nil, now)
	}
}

// onIdleTimeout queues the 408 response; its force-close status drains it
// and then closes.
func (c *conn) onIdleTimeout() {
	logging.Debugf("conn fd %d: idle timeout", c.fd)
	c.stopReading = true
	c.shouldClose = true
	c.queueResponse(handler.ErrorResponse(
		httpmsg.NewError(http.StatusRequestTimeout, "connection idle too long"), c.srv, nil), "", "")
}

// CGI completion paths, invoked by the server's per-iteration probe.

func (c *conn) finishCGI(ok bool) {
	c.cgi.Drain()
	var resp *httpmsg.Response
	if ok {
		resp = c.cgi.BuildResponse()
	} else {
		resp = handler.ErrorResponse(
			httpmsg.NewError(http.StatusInternalServerError, "CGI script failed"), c.srv, nil)
	}
	c.cgi.Finish()
	c.finishRequest(resp)
}

func (c *conn) abortCGI(status int, message string) {
	c.cgi.Kill()
	c.finishRequest(handler.ErrorResponse(httpmsg.NewError(status, message), c.srv, nil))
}

// teardown releases every resource the connection owns. The server removes
// poller registrations before calling it.
func (c *conn) teardown() {
	c.cgi.Kill()
	unix.Close(c.fd)
}
