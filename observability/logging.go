// Package observability provides the structured event sink, JSON logging
// setup, and the periodic availability monitor.
package observability

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// SetupLogging configures the default slog logger to emit structured JSON
// and returns it for richer logging within the service. All log lines
// include the service name and environment when provided.
func SetupLogging(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so third-party packages log JSON too.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// MaskedValue is the placeholder substituted for sensitive identifiers.
const MaskedValue = "[REDACTED]"

// MaskMobile hides all but the last two digits of a mobile number so log
// lines stay correlatable without exposing the full identifier.
func MaskMobile(mobile string) string {
	trimmed := strings.TrimSpace(mobile)
	if len(trimmed) < 4 {
		return MaskedValue
	}
	return strings.Repeat("*", len(trimmed)-2) + trimmed[len(trimmed)-2:]
}
