package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ripe-ncc/rpki-provisioning/errors"
)

// Logger is the sink the package-level Debug/Info/Notice/Warning/Error functions forward to once
// registered with SetLogger. WriterLogger below is the only implementation this package ships; callers
// with their own structured-logging setup can implement this interface directly instead.
type Logger interface {
	Debug(v ...interface{})
	Info(v ...interface{})
	Notice(v ...interface{})
	Warning(v ...interface{})
	Error(v ...interface{})
}

// Priority is the logging priority level.
type Priority int

const (
	// NONE disables all logging output. A WriterLogger may not be constructed with this level.
	NONE Priority = iota
	// ERROR logs only unrecoverable fatal errors.
	ERROR
	// WARNING logs state changes that affect service degradation, in addition to ERROR.
	WARNING
	// NOTICE logs state changes that do not necessarily cause service degradation, in addition to WARNING.
	NOTICE
	// INFO logs performance, status and statistics events, in addition to NOTICE.
	INFO
	// DEBUG logs everything, including application flow detail useful for troubleshooting.
	DEBUG
)

// WriterLogger is a basic Logger implementation that writes prioritized, timestamped lines to an io.Writer.
type WriterLogger struct {
	level Priority
	out   *log.Logger
}

// New constructs a WriterLogger that writes to w at the given priority level.
// If w is nil, os.Stderr is used. The NONE level is rejected, as a logger that can never log anything
// serves no purpose -- callers that want no logging should leave the global logger unregistered.
func New(level Priority, w io.Writer) (*WriterLogger, error) {
	if level == NONE {
		return nil, errors.New(errors.ErrInvalidArgument).AppendMessage("Logger priority must not be NONE.")
	}
	if w == nil {
		w = os.Stderr
	}
	return &WriterLogger{
		level: level,
		out:   log.New(w, "", 0),
	}, nil
}

func (l *WriterLogger) write(level Priority, prefix string, v ...interface{}) {
	if l == nil || l.out == nil || level > l.level {
		return
	}
	msg := fmt.Sprintln(v...)
	l.out.Printf("%s [%s] %s", time.Now().Format(time.RFC3339), prefix, msg)
}

// Debug implements Logger.
func (l *WriterLogger) Debug(v ...interface{}) {
	l.write(DEBUG, "D", v...)
}

// Info implements Logger.
func (l *WriterLogger) Info(v ...interface{}) {
	l.write(INFO, "I", v...)
}

// Notice implements Logger.
func (l *WriterLogger) Notice(v ...interface{}) {
	l.write(NOTICE, "N", v...)
}

// Warning implements Logger.
func (l *WriterLogger) Warning(v ...interface{}) {
	l.write(WARNING, "W", v...)
}

// Error implements Logger.
func (l *WriterLogger) Error(v ...interface{}) {
	l.write(ERROR, "E", v...)
}
