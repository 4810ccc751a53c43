// Package logging builds the process logger.
package logging

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process logger. It is a no-op until Initialize is called.
var Logger = zap.NewNop().Sugar()

// Options selects the logger output.
type Options struct {
	// Verbose enables debug level.
	Verbose bool
	// JSON switches to structured JSON output.
	JSON bool
	// File redirects output to a file instead of stderr. The TUI owns the
	// terminal, so it logs here.
	File string
}

// New builds a logger for opts.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if opts.Verbose {
		level = zap.DebugLevel
	}

	if opts.JSON {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		if opts.File != "" {
			cfg.OutputPaths = []string{opts.File}
		}
		l, err := cfg.Build()
		if err != nil {
			return nil, errors.Wrap(err, "build json logger")
		}
		return l.Sugar(), nil
	}

	sink := zapcore.Lock(os.Stderr)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", opts.File)
		}
		sink = zapcore.Lock(f)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if opts.File != "" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	return zap.New(core).Sugar(), nil
}

// Initialize replaces Logger with one built from opts.
func Initialize(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// Sync flushes the process logger. Errors from syncing a terminal are ignored.
func Sync() {
	_ = Logger.Sync()
}
