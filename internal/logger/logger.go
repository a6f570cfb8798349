package logger

import (
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	mu   sync.RWMutex
	once sync.Once
)

// Options configures the global logger
type Options struct {
	// Verbose enables debug output with the development encoder
	Verbose bool
	// File adds a rotated JSON log file
	File string
	// Quiet only writes warnings and errors to the console
	Quiet bool
}

// Init initializes the global logger once. Later calls are ignored.
func Init(opts Options) {
	once.Do(func() {
		set(build(opts))
	})
}

func build(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	if opts.Verbose {
		level = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleLevel := level
	if opts.Quiet {
		consoleLevel = zapcore.WarnLevel
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), consoleLevel),
	}

	// The file always gets the full run, diagnostics included
	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    50, // MB
				MaxBackups: 5,
				MaxAge:     30, // days
			}),
			zapcore.DebugLevel,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.FatalLevel))
}

func set(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

// Get returns the global logger
func Get() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init(Options{})
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Stage returns the global logger tagged with a pipeline stage name
func Stage(name string) *zap.Logger {
	return Get().With(zap.String("stage", name))
}

// Replace swaps the global logger and returns a function restoring the
// previous one. Tests use it to observe log output.
func Replace(l *zap.Logger) func() {
	prev := Get()
	set(l)
	return func() { set(prev) }
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
