package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Settings stores config for Logger
type Settings struct {
	Path  string
	Name  string
	Ext   string
	Level string

	// rotation, passed through to lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const defaultCallerSkip = 1

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	// DefaultLogger is used by the package level functions
	DefaultLogger = newLogger(zapcore.Lock(os.Stdout))
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.ConsoleSeparator = " "
	return cfg
}

func newLogger(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), ws, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(defaultCallerSkip)).Sugar()
}

// Setup initializes DefaultLogger, writing to stdout and, when settings.Path
// is not empty, to a rotated log file under it.
func Setup(settings *Settings) error {
	if settings.Level != "" {
		if err := SetLevel(settings.Level); err != nil {
			return err
		}
	}
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if settings.Path != "" {
		if err := os.MkdirAll(settings.Path, 0o755); err != nil {
			return fmt.Errorf("create log dir %s: %w", settings.Path, err)
		}
		ext := strings.TrimPrefix(settings.Ext, ".")
		if ext == "" {
			ext = "log"
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(settings.Path, settings.Name+"."+ext),
			MaxSize:    settings.MaxSizeMB,
			MaxBackups: settings.MaxBackups,
			MaxAge:     settings.MaxAgeDays,
		}
		sinks = append(sinks, zapcore.AddSync(rotator))
	}
	DefaultLogger = newLogger(zapcore.NewMultiWriteSyncer(sinks...))
	return nil
}

// SetLevel changes the minimum level, accepts debug, info, warn, error
func SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", name, err)
	}
	level.SetLevel(lvl)
	return nil
}

// Sugared returns the logger without the facade's caller skip, for libraries
// that take a printf style logger.
func Sugared() *zap.SugaredLogger {
	return DefaultLogger.Desugar().WithOptions(zap.AddCallerSkip(-defaultCallerSkip)).Sugar()
}

// Sync flushes buffered entries
func Sync() {
	_ = DefaultLogger.Sync()
}

// Debug logs debug message through DefaultLogger
func Debug(v ...interface{}) {
	DefaultLogger.Debug(v...)
}

// Debugf logs debug message through DefaultLogger
func Debugf(format string, v ...interface{}) {
	DefaultLogger.Debugf(format, v...)
}

// Info logs message through DefaultLogger
func Info(v ...interface{}) {
	DefaultLogger.Info(v...)
}

// Infof logs message through DefaultLogger
func Infof(format string, v ...interface{}) {
	DefaultLogger.Infof(format, v...)
}

// Warn logs warning message through DefaultLogger
func Warn(v ...interface{}) {
	DefaultLogger.Warn(v...)
}

// Warnf logs warning message through DefaultLogger
func Warnf(format string, v ...interface{}) {
	DefaultLogger.Warnf(format, v...)
}

// Error logs error message through DefaultLogger
func Error(v ...interface{}) {
	DefaultLogger.Error(v...)
}

// Errorf logs error message through DefaultLogger
func Errorf(format string, v ...interface{}) {
	DefaultLogger.Errorf(format, v...)
}

// Fatal prints error message then stop the program
func Fatal(v ...interface{}) {
	DefaultLogger.Fatal(v...)
}
