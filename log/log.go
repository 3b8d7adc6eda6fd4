// High level log wrapper, so it can output different log based on level.
//
// There are five levels in total: FATAL, ERROR, WARNING, INFO, DEBUG.
// The default log output level is INFO, you can change it by:
// - call log.SetLevelByString()
// - set environment variable `LOG_LEVEL`
//
// Output goes through github.com/pingcap/log, so every call site may attach
// structured zap fields. The printf-style helpers are kept for call sites that
// only have a message.

package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/pingcap/errors"
	plog "github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and optional file of the process logger.
type Config struct {
	Level string
	// File is the log file path. Empty means stderr.
	File string
	// MaxSizeMB rotates the file once it grows beyond this size.
	MaxSizeMB int
}

func init() {
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		SetLevelByString(l)
	}
}

// Init replaces the global logger according to cfg.
func Init(cfg Config) error {
	pc := &plog.Config{Level: normalizeLevel(cfg.Level)}
	if cfg.File != "" {
		pc.File = plog.FileLogConfig{Filename: cfg.File, MaxSize: cfg.MaxSizeMB}
	}
	lg, props, err := plog.InitLogger(pc, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return errors.Annotatef(err, "init logger with level %q", cfg.Level)
	}
	plog.ReplaceGlobals(lg, props)
	return nil
}

// SetLevelByString changes the level of the global logger. Unknown strings
// fall back to info.
func SetLevelByString(level string) {
	plog.SetLevel(StringToLogLevel(level))
}

// StringToLogLevel parses the level names accepted by the config file.
func StringToLogLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(normalizeLevel(level))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "":
		return "info"
	case "warning":
		return "warn"
	}
	return level
}

func Debug(msg string, fields ...zap.Field) {
	plog.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	plog.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	plog.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	plog.Error(msg, fields...)
}

// Fatal logs at fatal level and terminates the process.
func Fatal(msg string, fields ...zap.Field) {
	plog.Fatal(msg, fields...)
}

func Debugf(format string, v ...interface{}) {
	plog.Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...interface{}) {
	plog.Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	plog.Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...interface{}) {
	plog.Error(fmt.Sprintf(format, v...))
}

func Fatalf(format string, v ...interface{}) {
	plog.Fatal(fmt.Sprintf(format, v...))
}

// Key renders a user key for log fields. Printable keys are kept readable.
func Key(name string, key []byte) zap.Field {
	for _, b := range key {
		if b < 0x20 || b > 0x7e {
			return zap.String(name, fmt.Sprintf("%x", key))
		}
	}
	return zap.ByteString(name, key)
}
