// Package utils
package utils

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger  *zap.Logger
	once    sync.Once
	logPath string
	level   = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// Init sets the log file and level used by GetLogger. It must run before the
// first GetLogger call to have any effect on the file output.
func Init(path, lvl string) {
	logPath = path
	if lvl != "" {
		if l, err := zapcore.ParseLevel(lvl); err == nil {
			level.SetLevel(l)
		}
	}
}

func GetLogger() *zap.Logger {
	once.Do(func() {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "ts"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

		cores := []zapcore.Core{
			zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), level),
		}
		if logPath != "" {
			if err := os.MkdirAll(filepath.Dir(logPath), 0755); err == nil {
				file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err == nil {
					cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level))
				}
			}
		}
		logger = zap.New(zapcore.NewTee(cores...)).Named("ladder-trader")
	})
	return logger
}
