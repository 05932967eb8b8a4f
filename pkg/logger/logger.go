package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"smsform/pkg/config"
)

const (
	formatText = "text"
	formatJSON = "json"

	envLogFormat    = "SMSFORM_LOG_FORMAT"
	envLogLevel     = "SMSFORM_LOG_LEVEL"
	envLogAddSource = "SMSFORM_LOG_ADD_SOURCE"
)

// options is the logging configuration after environment overrides.
type options struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger: charm text output by default, or one JSON
// LogEntry per line when the format is "json". Secret-bearing attributes are
// redacted in both formats.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch opts.format {
	case formatJSON:
		handler = newJSONHandler(writer, opts)
	default:
		handler = charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(opts.level),
			ReportTimestamp: true,
			ReportCaller:    opts.addSource,
			Formatter:       charmLog.TextFormatter,
		})
	}

	return slog.New(redactHandler{next: handler}), nil
}

func resolveOptions(cfg config.LoggingConfig) (options, error) {
	format := firstNonEmpty(os.Getenv(envLogFormat), cfg.Format, formatText)
	format = strings.ToLower(format)
	if format != formatJSON && format != formatText {
		return options{}, fmt.Errorf("unsupported log format %q", format)
	}

	level, err := parseLevel(firstNonEmpty(os.Getenv(envLogLevel), cfg.Level, "info"))
	if err != nil {
		return options{}, err
	}

	addSource := cfg.AddSource
	if raw := strings.TrimSpace(os.Getenv(envLogAddSource)); raw != "" {
		// Unparseable values turn source reporting off.
		addSource, _ = strconv.ParseBool(raw)
	}

	return options{format: format, level: level, addSource: addSource}, nil
}

func parseLevel(input string) (slog.Level, error) {
	text := strings.ToLower(strings.TrimSpace(input))
	if text == "warning" {
		text = "warn"
	}

	var level slog.Level
	switch text {
	case "debug", "info", "warn", "error":
		if err := level.UnmarshalText([]byte(text)); err != nil {
			return 0, err
		}
		return level, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", text)
	}
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
