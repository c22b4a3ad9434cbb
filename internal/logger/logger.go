package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.Mutex
	log *logrus.Logger
)

// Options configures the process logger.
type Options struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text or json
	Output io.Writer
}

// Initialize sets up the process-wide logger. Calling it again replaces the
// previous configuration.
func Initialize(opts Options) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(parseLevel(opts.Level))

	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	mu.Lock()
	log = l
	mu.Unlock()
	return l
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Get returns the configured logger, initializing defaults on first use.
func Get() *logrus.Logger {
	mu.Lock()
	l := log
	mu.Unlock()
	if l == nil {
		return Initialize(Options{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
	}
	return l
}

// WithComponent tags entries with the emitting component.
func WithComponent(component string) *logrus.Entry {
	return Get().WithField("component", component)
}

// WithRequest tags entries with the request id.
func WithRequest(requestID string) *logrus.Entry {
	return Get().WithFields(logrus.Fields{
		"request_id": requestID,
		"component":  "http",
	})
}

// WithError attaches err and the component that hit it.
func WithError(err error, component string) *logrus.Entry {
	return Get().WithFields(logrus.Fields{
		"error":     err.Error(),
		"component": component,
	})
}
