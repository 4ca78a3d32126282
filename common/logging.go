// Package common provides centralized logging infrastructure for the gauge
// lifecycle services. It implements log output routing that directs error
// messages to stderr while sending other log levels to stdout, enabling
// proper stream separation for containerized and scripted environments.
//
// The logging system is built on logrus for structured logging capabilities
// with custom output handling that supports both development workflows and
// production deployment patterns. All services should use the global Logger
// instance to ensure uniform output handling and formatting.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log output to stdout or stderr based on
// the entry's severity level.
//
// Routing logic:
//   - Error messages (containing "level=error") → stderr
//   - All other messages (info, debug, warn) → stdout
//
// Docker and Kubernetes environments capture stdout and stderr
// independently, so error streams can be routed to alerting systems while
// info logs are processed for analytics and debugging.
type OutputSplitter struct{}

// Write implements io.Writer. It examines the formatted entry for the
// error level indicator produced by logrus formatters and selects the
// output stream accordingly. Safe for concurrent use; writes go directly
// to the thread-safe OS streams.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for the gauge lifecycle system.
// It is pre-configured with the OutputSplitter for stream separation and
// serves as the central logging facility for all services.
//
// Configuration examples:
//
//	// Development environment (human-readable)
//	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
//	Logger.SetLevel(logrus.DebugLevel)
//
//	// Production environment (machine-readable)
//	Logger.SetFormatter(&logrus.JSONFormatter{})
//	Logger.SetLevel(logrus.InfoLevel)
var Logger = func() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&OutputSplitter{})
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}()
