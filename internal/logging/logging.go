// Package logging builds the process *log.Logger: a size-rotated log file,
// optionally mirrored to stderr and to the terminal monitor's log pane.
package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// File is the log file path. Empty disables file output.
	File       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Stderr     bool
	// Extra receives a copy of every line when set.
	Extra io.Writer
}

// Logger is the process logger and the file it writes to.
type Logger struct {
	*log.Logger
	file *lumberjack.Logger
}

// New builds the logger. With no outputs configured, lines are discarded.
func New(opts Options) *Logger {
	var writers []io.Writer
	l := &Logger{}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		writers = append(writers, l.file)
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	if opts.Extra != nil {
		writers = append(writers, opts.Extra)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	l.Logger = log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	return l
}

// Rotate starts a new log file.
func (l *Logger) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// LineWriter forwards each written log line to a channel. Lines are dropped
// when the channel is full so logging never blocks on a slow reader.
type LineWriter struct {
	ch chan<- string
}

func NewLineWriter(ch chan<- string) *LineWriter {
	if ch == nil {
		panic("LineWriter: channel cannot be nil")
	}
	return &LineWriter{ch: ch}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		select {
		case w.ch <- line:
		default:
		}
	}
	return len(p), nil
}
