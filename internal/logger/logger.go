package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a leveled wrapper around the standard log package.
type Logger struct {
	level Level
	log   *log.Logger
}

// New creates a logger writing to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{
		level: level,
		log:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

// NewWithOutput creates a logger writing to w, useful for tests.
func NewWithOutput(level Level, w io.Writer) *Logger {
	return &Logger{
		level: level,
		log:   log.New(w, "", log.LstdFlags),
	}
}

// Default returns l if non-nil, otherwise a stderr INFO logger.
// Components accept a possibly-nil *Logger and call this once.
func Default(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return New(INFO)
}

func (l *Logger) SetLevel(level Level) { l.level = level }

func (l *Logger) Debug(format string, v ...interface{}) {
	if l.level <= DEBUG {
		l.log.Printf("[DEBUG] "+format, v...)
	}
}

func (l *Logger) Info(format string, v ...interface{}) {
	if l.level <= INFO {
		l.log.Printf("[INFO] "+format, v...)
	}
}

func (l *Logger) Warn(format string, v ...interface{}) {
	if l.level <= WARN {
		l.log.Printf("[WARN] "+format, v...)
	}
}

func (l *Logger) Error(format string, v ...interface{}) {
	if l.level <= ERROR {
		l.log.Printf("[ERROR] "+format, v...)
	}
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.log.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}
