// Package logger builds configured log/slog loggers for the module.
//
// Components take a *slog.Logger through a WithLogger-style option and never
// construct handlers themselves; this package is the single place deciding
// format, level and static attributes, typically from environment
// configuration:
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//	log := logger.FromConfig(cfg)
package logger
