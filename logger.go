package shardengine

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a slog.TextHandler as the default logger and
// sets its level from the SHARDENGINE_LOG_LEVEL environment variable,
// defaulting to Info. Callers that want the engine's default logging
// behavior should call this once at process startup.
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)
	switch os.Getenv("SHARDENGINE_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel overrides the level configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
