// pkg/logger/logger.go

package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// PlatformLogPaths lists candidate log file locations, most preferred first.
func PlatformLogPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"/var/log/charon/charon.log",
		filepath.Join(home, ".charon", "charon.log"),
		filepath.Join(os.TempDir(), "charon.log"),
	}
}

// FindWritableLogPath returns the first candidate path whose directory can
// be created and written to.
func FindWritableLogPath() (string, error) {
	var lastErr error
	for _, path := range PlatformLogPaths() {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			lastErr = err
			continue
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			lastErr = err
			continue
		}
		_ = f.Close()
		return path, nil
	}
	return "", lastErr
}

// DefaultConsoleEncoderConfig is shared by the console core and fallback.
func DefaultConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// ParseLogLevel maps LOG_LEVEL values to zap levels, defaulting to info.
func ParseLogLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.Set(s); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// L returns the package logger, or the zap global if initialization has not
// happened yet.
func L() *zap.Logger {
	if log != nil {
		return log
	}
	return zap.L()
}
