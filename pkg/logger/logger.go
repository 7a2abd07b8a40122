package logger

import (
	"io"
	"log/slog"
	"os"
)

// Format represents logger output format.
type Format string

const (
	// FormatJSON outputs structured logs for production log aggregation.
	FormatJSON Format = "json"
	// FormatText outputs human-readable logs for development debugging.
	FormatText Format = "text"
)

// Config controls handler construction, loadable from the environment.
// Name, when set, is attached as a static "service" attribute.
type Config struct {
	Level  slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	Format Format     `env:"LOG_FORMAT" envDefault:"json"`
	Name   string     `env:"LOG_SERVICE_NAME"`
}

// Option configures logger creation.
type Option func(*settings)

type settings struct {
	level  slog.Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

// WithLevel sets the minimum emitted level.
func WithLevel(l slog.Level) Option {
	return func(s *settings) { s.level = l }
}

// WithFormat sets the output format; unknown formats fall back to JSON.
func WithFormat(f Format) Option {
	return func(s *settings) {
		if f == FormatText {
			s.format = FormatText
			return
		}
		s.format = FormatJSON
	}
}

// WithOutput sets a custom output destination, ignoring nil writers.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.output = w
		}
	}
}

// WithAttrs adds static attributes to every record.
func WithAttrs(attrs ...slog.Attr) Option {
	return func(s *settings) {
		s.attrs = append(s.attrs, attrs...)
	}
}

// New creates a configured *slog.Logger. Defaults are production-safe: JSON
// output at info level on stdout.
func New(opts ...Option) *slog.Logger {
	s := &settings{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	handlerOpts := &slog.HandlerOptions{Level: s.level}

	var handler slog.Handler
	if s.format == FormatText {
		handler = slog.NewTextHandler(s.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(s.output, handlerOpts)
	}

	if len(s.attrs) > 0 {
		handler = handler.WithAttrs(s.attrs)
	}

	return slog.New(handler)
}

// FromConfig builds a logger from an environment-loaded Config.
func FromConfig(cfg Config, opts ...Option) *slog.Logger {
	base := []Option{WithLevel(cfg.Level), WithFormat(cfg.Format)}
	if cfg.Name != "" {
		base = append(base, WithAttrs(slog.String("service", cfg.Name)))
	}
	return New(append(base, opts...)...)
}
