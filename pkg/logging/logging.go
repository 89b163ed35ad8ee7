// Package logging provides structured logging for the VTN controller.
//
// A zap core does the encoding and a logr view of it is what components
// hold, so the store, the manager, the flow-rule compiler and klog based
// code paths all write through one sink with one level.
//
//	logging.InitGlobalLogger(logging.Options{Level: "info", Format: "json"})
//	log := logging.LoggerForComponent("store")
//	log.Info("Network created", "network", "net-1", "segment", 1)
package logging

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-vtn/pkg/types"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	FormatJSON = "json"
	FormatText = "text"
)

// Options mirrors config.LoggingConfig plus the caller settings the binary
// decides on.
type Options struct {
	Level  string
	Format string

	// OutputPath is appended to; stdout when empty
	OutputPath string

	AddCaller  bool
	CallerSkip int
}

// Logger is a logr.Logger backed by a zap core whose level is shared by
// every logger derived from it.
type Logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
	logr  logr.Logger
}

var (
	globalLogger atomic.Value
	initOnce     sync.Once
)

// NewLogger builds a logger. Every entry carries the controller's app id.
func NewLogger(opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.SecondsDurationEncoder

	var encoder zapcore.Encoder
	switch opts.Format {
	case FormatText:
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON, "":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	sink := zapcore.AddSync(os.Stdout)
	if opts.OutputPath != "" {
		f, err := os.OpenFile(opts.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.AddSync(f)
	}

	var zapOpts []zap.Option
	if opts.AddCaller {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(opts.CallerSkip))
	}
	z := zap.New(zapcore.NewCore(encoder, sink, atomicLevel), zapOpts...).
		With(zap.String("app", types.AppID))

	return &Logger{zap: z, level: atomicLevel, logr: zapr.NewLogger(z)}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", level)
}

// SetLevel changes the level of this logger and every logger derived from it
func (l *Logger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// Logger returns the logr view
func (l *Logger) Logger() logr.Logger {
	return l.logr
}

func (l *Logger) WithName(name string) *Logger {
	return &Logger{zap: l.zap.Named(name), level: l.level, logr: l.logr.WithName(name)}
}

func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{
		zap:   l.zap.With(zapFields(keysAndValues)...),
		level: l.level,
		logr:  l.logr.WithValues(keysAndValues...),
	}
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logr.Info(msg, keysAndValues...)
}

// Warn goes straight to zap; logr has no warning level.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.zap.Warn(msg, zapFields(keysAndValues)...)
}

func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logr.Error(err, msg, keysAndValues...)
}

// V returns the logr logger at a verbosity. V(1) is debug.
func (l *Logger) V(level int) logr.Logger {
	return l.logr.V(level)
}

// RedirectKlog routes klog output (libovsdb, client-go) through this logger
func (l *Logger) RedirectKlog() {
	klog.SetLogger(l.logr.WithName("klog"))
}

func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func zapFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}

// NewNopLogger returns a logger that discards everything, for tests
func NewNopLogger() *Logger {
	z := zap.NewNop()
	return &Logger{zap: z, level: zap.NewAtomicLevelAt(zapcore.InfoLevel), logr: zapr.NewLogger(z)}
}

// InitGlobalLogger initializes the global logger once at startup
func InitGlobalLogger(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			initErr = err
			return
		}
		globalLogger.Store(logger)
	})
	return initErr
}

// L returns the global logger, or a default info/json one before
// InitGlobalLogger ran.
func L() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l.(*Logger)
	}
	logger, _ := NewLogger(Options{Level: LevelInfo, Format: FormatJSON})
	return logger
}
