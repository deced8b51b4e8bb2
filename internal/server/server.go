// Package server owns the event loop: listening sockets, client
// connections, and CGI pipe endpoints multiplexed over one poller.
package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/event"
	"github.com/ulsgks/webserv/internal/logging"
	"github.com/ulsgks/webserv/internal/socket"
)

// Server runs the readiness loop over its listeners and connections.
type Server struct {
	cfg       *config.Config
	poller    *event.Poller
	listeners map[int]*socket.Listener // keyed by listening fd
	byPort    map[int]*socket.Listener
	conns     map[int]*conn // keyed by client fd
	running   atomic.Bool
}

// New binds one listening socket per configured port.
func New(cfg *config.Config) (*Server, error) {
	poller, err := event.NewPoller()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		poller:    poller,
		listeners: make(map[int]*socket.Listener),
		byPort:    make(map[int]*socket.Listener),
		conns:     make(map[int]*conn),
	}
	for _, srv := range cfg.Servers {
		for _, l := range srv.Listens {
			if _, ok := s.byPort[l.Port]; ok {
				continue
			}
			ln, lerr := socket.Listen(l.Host, l.Port)
			if lerr != nil {
				s.closeListeners()
				poller.Close()
				return nil, lerr
			}
			if werr := poller.Watch(ln.FD(), event.Read); werr != nil {
				ln.Close()
				s.closeListeners()
				poller.Close()
				return nil, werr
			}
			s.listeners[ln.FD()] = ln
			s.byPort[l.Port] = ln
			logging.Infof("listening on %s:%d", l.Host, l.Port)
		}
	}
	if len(s.listeners) == 0 {
		poller.Close()
		return nil, fmt.Errorf("no listen addresses configured")
	}
	return s, nil
}

// Run drives the loop until Stop is called, then closes every connection,
// listener and the poller. Output still queued on a connection at that
// point is not flushed.
func (s *Server) Run() error {
	signal.Ignore(syscall.SIGPIPE)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logging.Info("shutdown signal received")
		s.Stop()
	}()

	s.running.Store(true)
	for s.running.Load() {
		now := time.Now()
		s.sweep(now)
		events, err := s.poller.PollOnce()
		if err != nil {
			s.shutdown()
			return err
		}
		now = time.Now()
		for _, ev := range events {
			s.dispatch(ev, now)
		}
		s.probeCGI(now)
	}
	s.shutdown()
	return nil
}

// Stop makes the loop exit after its current iteration.
func (s *Server) Stop() { s.running.Store(false) }

func (s *Server) dispatch(ev event.Event, now time.Time) {
	if ln, ok := s.listeners[ev.FD]; ok {
		s.acceptAll(ln, now)
		return
	}
	if c, ok := s.conns[ev.FD]; ok {
		s.dispatchConn(c, ev, now)
		return
	}
	s.dispatchCGIPipe(ev)
}

func (s *Server) acceptAll(ln *socket.Listener, now time.Time) {
	for {
		fd, remote, err := ln.Accept()
		if err != nil {
			logging.Errorf("%v", err)
			return
		}
		if fd < 0 {
			return
		}
		c := newConn(fd, ln.Port(), remote, s.cfg, s.cfg.DefaultServer(ln.Port()))
		c.lastActivity = now
		if werr := s.poller.Watch(fd, event.Read|event.Error|event.Hup); werr != nil {
			logging.Errorf("watch client fd %d: %v", fd, werr)
			c.teardown()
			continue
		}
		s.conns[fd] = c
		logging.Debugf("accepted %s on port %d (fd %d)", remote, ln.Port(), fd)
	}
}

func (s *Server) dispatchConn(c *conn, ev event.Event, now time.Time) {
	if ev.Ready&event.Error != 0 {
		c.closed = true
		return
	}
	if ev.Ready&event.Read != 0 {
		c.onReadable(now)
	}
	if ev.Ready&event.Write != 0 {
		c.onWritable(now)
	}
	if ev.Ready&event.Hup != 0 && ev.Ready&event.Read == 0 {
		c.closed = true
	}
	s.syncInterest(c)
}

// dispatchCGIPipe routes a pipe event to the connection owning that fd.
func (s *Server) dispatchCGIPipe(ev event.Event) {
	for _, c := range s.conns {
		if !c.cgi.Active() {
			continue
		}
		switch ev.FD {
		case c.cgi.StdoutFD():
			if eof := c.cgi.OnStdoutReadable(); eof || ev.Ready&event.Hup != 0 {
				c.cgi.Drain()
				s.unwatch(ev.FD)
				c.stdoutEOF = true
			}
			return
		case c.cgi.StdinFD():
			if done := c.cgi.OnStdinWritable(); done || ev.Ready&(event.Error|event.Hup) != 0 {
				s.unwatch(ev.FD)
				c.cgi.CloseStdin()
			}
			return
		}
	}
}

// probeCGI checks every in-flight child for timeout or exit. Registration of
// the pipe ends also happens here, right after the handler dispatched.
func (s *Server) probeCGI(now time.Time) {
	for _, c := range s.conns {
		if !c.cgi.Active() {
			continue
		}
		s.ensureCGIWatched(c)
		if c.cgi.Expired(now) {
			logging.Warnf("conn fd %d: CGI timed out", c.fd)
			s.unwatchCGI(c)
			c.abortCGI(http.StatusGatewayTimeout, "CGI script exceeded its deadline")
			s.syncInterest(c)
			continue
		}
		if exited, ok := c.cgi.Probe(); exited {
			s.unwatchCGI(c)
			c.finishCGI(ok)
			s.syncInterest(c)
		}
	}
}

func (s *Server) ensureCGIWatched(c *conn) {
	if fd := c.cgi.StdoutFD(); fd >= 0 && !c.stdoutEOF && !s.poller.Watched(fd) {
		if err := s.poller.Watch(fd, event.Read|event.Hup); err != nil {
			logging.Errorf("watch CGI stdout: %v", err)
		}
	}
	if fd := c.cgi.StdinFD(); fd >= 0 && !s.poller.Watched(fd) {
		if err := s.poller.Watch(fd, event.Write|event.Error|event.Hup); err != nil {
			logging.Errorf("watch CGI stdin: %v", err)
		}
	}
}

func (s *Server) unwatchCGI(c *conn) {
	if fd := c.cgi.StdoutFD(); fd >= 0 {
		s.unwatch(fd)
	}
	if fd := c.cgi.StdinFD(); fd >= 0 {
		s.unwatch(fd)
	}
}

func (s *Server) unwatch(fd int) {
	if s.poller.Watched(fd) {
		if err := s.poller.Unwatch(fd); err != nil {
			logging.Debugf("unwatch fd %d: %v", fd, err)
		}
	}
}

// syncInterest keeps the poller mask aligned with what the connection can
// make progress on.
func (s *Server) syncInterest(c *conn) {
	if c.closed {
		return
	}
	want := event.Error | event.Hup
	if !c.stopReading {
		want |= event.Read
	}
	if c.wantsWrite() {
		want |= event.Write
	}
	if err := s.poller.Update(c.fd, want); err != nil {
		logging.Debugf("update fd %d: %v", c.fd, err)
	}
}

// sweep enforces the idle timeout and removes closed connections.
func (s *Server) sweep(now time.Time) {
	for fd, c := range s.conns {
		if c.closed {
			s.removeConn(fd, c)
			continue
		}
		if c.state != connSending && !c.cgi.Active() && c.idleExpired(now) {
			c.onIdleTimeout()
			s.syncInterest(c)
		}
	}
}

func (s *Server) removeConn(fd int, c *conn) {
	if c.cgi.Active() {
		s.unwatchCGI(c)
	}
	s.unwatch(fd)
	c.teardown()
	delete(s.conns, fd)
	logging.Debugf("closed connection fd %d after %d request(s)", fd, c.served)
}

func (s *Server) shutdown() {
	for fd, c := range s.conns {
		s.removeConn(fd, c)
	}
	s.closeListeners()
	s.poller.Close()
	logging.Info("server stopped")
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = map[int]*socket.Listener{}
	s.byPort = map[int]*socket.Listener{}
}
