package vkforge

import (
	"io"
	"log"
	"os"
)

// Logger is the ambient logging surface every Device carries. It mirrors
// the teacher's BaseCore three-logger split (info/warn/error) instead of
// a single undifferentiated stream, so validation-layer chatter, missing
// optional extensions, and fatal contract violations land on distinguishable
// channels.
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
}

// NewLogger builds a Logger writing to out (info/warn) and errOut (error).
// Passing nil for either selects os.Stdout / os.Stderr, matching the
// common case of a Device created without a dedicated log file.
func NewLogger(out, errOut io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Logger{
		info:  log.New(out, "vkforge INFO: ", log.Ldate|log.Ltime|log.Lshortfile),
		warn:  log.New(out, "vkforge WARN: ", log.Ldate|log.Ltime|log.Lshortfile),
		error: log.New(errOut, "vkforge ERROR: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.info.Printf(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.warn.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.error.Printf(format, args...)
}
