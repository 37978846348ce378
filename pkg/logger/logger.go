package logger

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a production-friendly structured JSON logger.
// When filePath is set, output is also written to a size-rotated file.
func New(appEnv, filePath string) *zap.Logger {
	level := zapcore.InfoLevel
	if appEnv == "local" || appEnv == "dev" {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if filePath != "" {
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)
	return zap.New(core, zap.AddCaller(), zap.Fields(zap.String("env", appEnv)))
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to the global zap logger.
func From(ctx context.Context) *zap.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.L()
}

// ShutdownFlush syncs buffered log output, giving up after timeout.
func ShutdownFlush(ctx context.Context, l *zap.Logger, timeout time.Duration) error {
	if l == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Sync() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
