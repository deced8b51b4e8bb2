// Package logging provides the leveled logger used across the server.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level is a log severity.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

var levelColors = [...]*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgRed),
	color.New(color.FgRed, color.Bold),
}

var (
	mu       sync.Mutex
	level              = INFO
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
	timeFunc           = time.Now
)

// SetLevel sets the minimum severity that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	level = l
	mu.Unlock()
}

// GetLevel reports the current minimum severity.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// SetOutput redirects both output streams. Used by tests.
func SetOutput(out, err io.Writer) {
	mu.Lock()
	stdout = out
	stderr = err
	mu.Unlock()
}

func logf(l Level, format string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}
	w := stdout
	if l >= WARN {
		w = stderr
	}
	ts := timeFunc().Format("2006-01-02 15:04:05")
	tag := levelColors[l].Sprintf("[%s]", levelNames[l])
	fmt.Fprintf(w, "%s %s %s\n", ts, tag, fmt.Sprintf(format, v...))
}

func Debug(v ...any)                 { logf(DEBUG, "%s", fmt.Sprint(v...)) }
func Debugf(format string, v ...any) { logf(DEBUG, format, v...) }
func Info(v ...any)                  { logf(INFO, "%s", fmt.Sprint(v...)) }
func Infof(format string, v ...any)  { logf(INFO, format, v...) }
func Warn(v ...any)                  { logf(WARN, "%s", fmt.Sprint(v...)) }
func Warnf(format string, v ...any)  { logf(WARN, format, v...) }
func Error(v ...any)                 { logf(ERROR, "%s", fmt.Sprint(v...)) }
func Errorf(format string, v ...any) { logf(ERROR, format, v...) }
func Fatalf(format string, v ...any) { logf(FATAL, format, v...) }

// Access logs one served request, colored by status class the way terminal
// servers usually do.
func Access(method, path string, status int) {
	line := fmt.Sprintf("%s %s %d", method, path, status)
	switch {
	case status < 400:
		logf(INFO, "%s", color.GreenString("%s", line))
	case status < 500:
		logf(INFO, "%s", color.YellowString("%s", line))
	default:
		logf(INFO, "%s", color.RedString("%s", line))
	}
}
