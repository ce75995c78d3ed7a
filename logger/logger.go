package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields type alias for logrus.Fields to maintain compatibility
type Fields map[string]interface{}

// Log wraps logrus.Logger with additional functionality
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry with additional functionality
type Entry struct {
	*logrus.Entry
}

var globalLogger *Log

var (
	warnCount  int64
	errorCount int64
)

func init() {
	globalLogger = Logger()
}

func Logger() *Log {
	logger := logrus.New()
	logger.SetReportCaller(true)

	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	if lvl, err := logrus.ParseLevel(strings.ToLower(levelStr)); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		file := filepath.Base(f.File)
		return "", fmt.Sprintf("%s:%d", file, f.Line)
	}

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	})
	logger.AddHook(&callerHook{})
	return &Log{Logger: logger}
}

func GetLogger() *Log {
	return globalLogger
}

// Counts reports the total warnings and errors logged since process start.
func Counts() (warns, errors int64) {
	return atomic.LoadInt64(&warnCount), atomic.LoadInt64(&errorCount)
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) Info(args ...interface{}) {
	e.Entry.Info(args...)
}

func (e *Entry) Warn(args ...interface{}) {
	atomic.AddInt64(&warnCount, 1)
	e.Entry.Warn(args...)
}

func (e *Entry) Debug(args ...interface{}) {
	e.Entry.Debug(args...)
}

func (e *Entry) Error(args ...interface{}) {
	atomic.AddInt64(&errorCount, 1)
	e.Entry.Error(args...)
}

// Configure sets up the logger with the provided configuration
func (l *Log) Configure(level string, format string, output string, maxAge int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}

	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		l.SetLevel(lvl)
	} else {
		return fmt.Errorf("invalid log level '%s'", level)
	}

	l.SetReportCaller(true)

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		file := filepath.Base(f.File)
		return "", fmt.Sprintf("%s:%d", file, f.Line)
	}

	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return fmt.Errorf("invalid log format '%s'", format)
	}

	switch output {
	case "stdout", "":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		if maxAge > 0 {
			l.SetOutput(&lumberjack.Logger{
				Filename: output,
				MaxAge:   maxAge,
				MaxSize:  100,
				Compress: true,
			})
		} else {
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				return fmt.Errorf("failed to open log file '%s': %w", output, err)
			}
			l.SetOutput(file)
		}
	}

	return nil
}

// SetOutput for logger
func (l *Log) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// SetLevel for logger
func (l *Log) SetLevel(level logrus.Level) {
	l.Logger.SetLevel(level)
}

// SetFormatter for logger
func (l *Log) SetFormatter(formatter logrus.Formatter) {
	l.Logger.SetFormatter(formatter)
}
