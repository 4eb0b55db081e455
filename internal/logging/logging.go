package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global slog logger.
// Console output goes to stderr so that command output on stdout stays
// clean. If logOutputDir is non-empty, logs are also written as JSON to
// a size-rotated file in that directory.
func Setup(levelStr string, logOutputDir string) error {
	_, err := setup(os.Stderr, levelStr, logOutputDir)
	return err
}

func setup(console io.Writer, levelStr string, logOutputDir string) (*slog.Logger, error) {
	level := parseLogLevel(levelStr)

	consoleHandler := tint.NewHandler(console, &tint.Options{Level: level})

	if logOutputDir == "" {
		logger := slog.New(consoleHandler)
		slog.SetDefault(logger)
		return logger, nil
	}

	logDir := os.ExpandEnv(logOutputDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory: %w", err)
	}

	logFilePath := filepath.Join(logDir, "mintywz.log")
	logFile := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level})

	logger := slog.New(slogmulti.Fanout(consoleHandler, fileHandler))
	slog.SetDefault(logger)

	fmt.Fprintf(os.Stderr, "Logging to file: %s\n", logFilePath)
	return logger, nil
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
