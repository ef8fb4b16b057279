package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is a no-op until InitLogger runs so packages and tests can log freely.
var Log = zap.NewNop().Sugar()

func InitLogger(levelStr string) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	// Default to INFO if invalid or empty
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		level = zap.InfoLevel
	}

	// Console encoder on stdout, docker friendly.
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level)

	logger := zap.New(core, zap.AddCaller())
	Log = logger.Sugar()
	Log.Infof("Logger initialized at level: %s", level.String())
}

// Named returns a child logger for one component, e.g. "worker" or "calling".
func Named(component string) *zap.SugaredLogger {
	return Log.Named(component)
}

// ForChannel returns a logger carrying the device/channel address of a trunk channel.
func ForChannel(device, object int) *zap.SugaredLogger {
	return Log.With("device", device, "channel", object)
}

// ChannelTag formats the short "[B0C3]" prefix used in channel log lines.
func ChannelTag(device, object int) string {
	return fmt.Sprintf("[B%dC%d]", device, object)
}
