package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config mirrors the shape cuemby-warren's pkg/log uses for bootstrapping
// a process-wide zerolog.Logger.
type Config struct {
	Level      string // debug, info, warn, error
	JSONOutput bool
	Output     io.Writer
}

// ZerologAdapter satisfies Logger by delegating to an underlying
// zerolog.Logger, attaching Fields as structured key-value pairs.
type ZerologAdapter struct {
	base zerolog.Logger
}

// NewZerolog builds a ZerologAdapter from Config, defaulting to
// console-formatted stdout output at info level.
func NewZerolog(cfg Config) *ZerologAdapter {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var base zerolog.Logger
	if cfg.JSONOutput {
		base = zerolog.New(out).Level(level).With().Timestamp().Logger()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return &ZerologAdapter{base: base}
}

func withFields(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	return e
}

func (z *ZerologAdapter) Debug(msg string, fields ...Field) {
	withFields(z.base.Debug(), fields).Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, fields ...Field) {
	withFields(z.base.Info(), fields).Msg(msg)
}

func (z *ZerologAdapter) Warn(msg string, fields ...Field) {
	withFields(z.base.Warn(), fields).Msg(msg)
}

func (z *ZerologAdapter) Error(msg string, err error, fields ...Field) {
	withFields(z.base.Error().Err(err), fields).Msg(msg)
}

var _ Logger = (*ZerologAdapter)(nil)
