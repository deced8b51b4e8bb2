// Package cgi spawns CGI/1.1 children and streams request bodies in and
// script output out over non-blocking pipes driven by the event loop.
package cgi

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/httpmsg"
	"github.com/ulsgks/webserv/internal/logging"
)

const readChunkSize = 8192

// Params carries the connection-scoped inputs for one execution.
type Params struct {
	ServerPort int
	RemoteAddr string
	Timeout    time.Duration
}

// State is the per-connection CGI lifecycle. The zero value is inactive.
type State struct {
	active  bool
	pid     int
	stdout  int // read end of the child's output pipe
	stdin   int // write end of the child's input pipe, -1 once closed
	started time.Time
	timeout time.Duration
	output  []byte
	body    []byte // request body snapshot
	written int
}

// Active reports whether a child is in flight.
func (s *State) Active() bool { return s.active }

// StdoutFD returns the read end of the child's stdout pipe.
func (s *State) StdoutFD() int { return s.stdout }

// StdinFD returns the write end of the child's stdin pipe, -1 when closed.
func (s *State) StdinFD() int { return s.stdin }

// ResolveInterpreter maps the script extension to its interpreter. A ".cgi"
// script execs directly; any other extension must have a configured handler.
func ResolveInterpreter(scriptPath string, loc *config.LocationBlock) (string, *httpmsg.Error) {
	ext := strings.ToLower(filepath.Ext(scriptPath))
	if ext == ".cgi" {
		return "", nil
	}
	interp, ok := loc.CGIHandlers[ext]
	if !ok {
		return "", httpmsg.NewError(http.StatusInternalServerError,
			"no CGI handler configured for "+ext)
	}
	return interp, nil
}

// Start forks the child with its stdin and stdout wired to fresh pipes. On
// return the parent holds the non-blocking stdout read end and, when the
// request has a body, the non-blocking stdin write end (an empty body closes
// stdin at once); the caller registers the open ends with the poller.
func (s *State) Start(req *httpmsg.Request, scriptPath string, loc *config.LocationBlock, params Params) *httpmsg.Error {
	interp, herr := ResolveInterpreter(scriptPath, loc)
	if herr != nil {
		return herr
	}
	absScript, err := filepath.Abs(scriptPath)
	if err != nil {
		return httpmsg.NewError(http.StatusInternalServerError, "cannot resolve script path")
	}
	env := BuildEnv(req, absScript, params.ServerPort, params.RemoteAddr)

	var stdinPipe, stdoutPipe [2]int
	if err := unix.Pipe2(stdinPipe[:], unix.O_CLOEXEC); err != nil {
		return httpmsg.NewError(http.StatusInternalServerError, "pipe: "+err.Error())
	}
	if err := unix.Pipe2(stdoutPipe[:], unix.O_CLOEXEC); err != nil {
		unix.Close(stdinPipe[0])
		unix.Close(stdinPipe[1])
		return httpmsg.NewError(http.StatusInternalServerError, "pipe: "+err.Error())
	}

	dir := filepath.Dir(absScript)
	argv0 := absScript
	argv := []string{absScript}
	if interp != "" {
		argv0 = interp
		argv = []string{interp, filepath.Base(absScript)}
	}
	// ForkExec dup2s the pipe ends onto fds 0 and 1; O_CLOEXEC closes the
	// originals across the exec, so nothing else leaks into the child.
	pid, err := syscall.ForkExec(argv0, argv, &syscall.ProcAttr{
		Dir:   dir,
		Env:   env,
		Files: []uintptr{uintptr(stdinPipe[0]), uintptr(stdoutPipe[1]), 2},
	})
	unix.Close(stdinPipe[0])
	unix.Close(stdoutPipe[1])
	if err != nil {
		unix.Close(stdinPipe[1])
		unix.Close(stdoutPipe[0])
		return httpmsg.NewError(http.StatusInternalServerError, "fork/exec: "+err.Error())
	}

	unix.SetNonblock(stdinPipe[1], true)
	unix.SetNonblock(stdoutPipe[0], true)

	s.active = true
	s.pid = pid
	s.stdin = stdinPipe[1]
	s.stdout = stdoutPipe[0]
	s.started = time.Now()
	s.timeout = params.Timeout
	if s.timeout <= 0 {
		s.timeout = config.DefaultCGITimeout
	}
	s.output = nil
	s.body = req.Body
	s.written = 0

	if len(s.body) == 0 {
		unix.Close(s.stdin)
		s.stdin = -1
	}
	logging.Debugf("cgi: spawned pid %d for %s", pid, absScript)
	return nil
}

// OnStdoutReadable drains up to one chunk of script output. It reports
// whether the child closed its end.
func (s *State) OnStdoutReadable() (eof bool) {
	buf := make([]byte, readChunkSize)
	n, err := unix.Read(s.stdout, buf)
	if n > 0 {
		s.output = append(s.output, buf[:n]...)
		return false
	}
	if n == 0 && err == nil {
		return true
	}
	// Treated as would-block; a real error surfaces as HUP on the next poll.
	return false
}

// OnStdinWritable pushes the next slice of the request body into the child.
// It reports whether the caller should close the stdin end (body fully
// written or child stopped reading); the caller unwatches the descriptor
// first, then calls CloseStdin.
func (s *State) OnStdinWritable() (done bool) {
	if s.stdin < 0 {
		return true
	}
	n, err := unix.Write(s.stdin, s.body[s.written:])
	if n > 0 {
		s.written += n
	}
	if err != nil && n <= 0 {
		// Would-block; wait for the next readiness event.
		return false
	}
	return s.written >= len(s.body) || n == 0
}

// CloseStdin closes the write end of the child's input pipe.
func (s *State) CloseStdin() {
	if s.stdin >= 0 {
		unix.Close(s.stdin)
		s.stdin = -1
	}
}

// Drain pulls any script output still buffered in the pipe after the child
// exited, so a fast child's tail is not lost.
func (s *State) Drain() {
	if s.stdout < 0 {
		return
	}
	buf := make([]byte, readChunkSize)
	for {
		n, err := unix.Read(s.stdout, buf)
		if n <= 0 || err != nil {
			return
		}
		s.output = append(s.output, buf[:n]...)
	}
}

// Expired reports whether the wall-clock deadline has passed.
func (s *State) Expired(now time.Time) bool {
	return s.active && now.Sub(s.started) > s.timeout
}

// Probe checks for child exit without blocking. ok is true only for a
// normal zero-status exit.
func (s *State) Probe() (exited bool, ok bool) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(s.pid, &ws, unix.WNOHANG, nil)
	if err != nil || pid != s.pid {
		return false, false
	}
	return true, ws.Exited() && ws.ExitStatus() == 0
}

// Kill terminates and reaps the child, then closes any open pipe ends. Safe
// to call on an inactive state.
func (s *State) Kill() {
	if !s.active {
		return
	}
	unix.Kill(s.pid, unix.SIGKILL)
	var ws unix.WaitStatus
	unix.Wait4(s.pid, &ws, 0, nil)
	s.closePipes()
	s.active = false
}

// Finish closes the pipe ends and deactivates the state after a normal exit.
func (s *State) Finish() {
	s.closePipes()
	s.active = false
}

func (s *State) closePipes() {
	if s.stdout >= 0 {
		unix.Close(s.stdout)
		s.stdout = -1
	}
	if s.stdin >= 0 {
		unix.Close(s.stdin)
		s.stdin = -1
	}
}

// BuildResponse synthesizes the HTTP response from the accumulated script
// output.
func (s *State) BuildResponse() *httpmsg.Response {
	return ParseOutput(s.output)
}

// ParseOutput splits CGI output into its header block and body and builds
// the response. Scripts may terminate headers with CRLFCRLF or bare LFLF;
// output without a separator is treated as all body.
func ParseOutput(output []byte) *httpmsg.Response {
	resp := httpmsg.NewResponse()

	var headerBlock, body []byte
	if i := bytes.Index(output, []byte("\r\n\r\n")); i >= 0 {
		headerBlock, body = output[:i], output[i+4:]
	} else if i := bytes.Index(output, []byte("\n\n")); i >= 0 {
		headerBlock, body = output[:i], output[i+2:]
	} else {
		body = output
	}

	status := http.StatusOK
	for _, line := range strings.Split(string(headerBlock), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if strings.EqualFold(name, "Status") {
			status = parseStatusValue(value)
			continue
		}
		resp.Header.Add(name, value)
	}
	resp.Status = status
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	resp.SetBody(body, contentType)
	return resp
}

// The Status value starts with an integer; anything after it is a reason
// phrase. Out-of-range codes are clamped into 100..599.
func parseStatusValue(value string) int {
	digits := value
	if i := strings.IndexFunc(value, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = value[:i]
	}
	code, err := strconv.Atoi(digits)
	if err != nil {
		return http.StatusOK
	}
	if code < 100 {
		return 100
	}
	if code > 599 {
		return 599
	}
	return code
}
