package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log    *zap.Logger
	helper *zap.Logger // 快捷方法专用，跳过一层调用栈
	level  = zap.NewAtomicLevelAt(zapcore.DebugLevel)
)

func init() {
	Log = newConsoleLogger(zapcore.AddSync(os.Stdout))
	helper = Log.WithOptions(zap.AddCallerSkip(1))
}

func newConsoleLogger(ws zapcore.WriteSyncer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		ws,
		level,
	)

	return zap.New(core, zap.AddCaller())
}

// SetLevel 运行时调整日志级别（nacos 热更新会调用）
func SetLevel(lvl string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(lvl)))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", lvl, err)
	}
	level.SetLevel(l)
	return nil
}

// Level 当前日志级别
func Level() string {
	return level.Level().String()
}

// Named 返回带模块名的子 logger
func Named(name string) *zap.Logger {
	return Log.Named(name)
}

func Sync() { _ = Log.Sync() }

// 快捷方法
func Info(msg string, fields ...zap.Field) { helper.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	helper.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field)  { helper.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { helper.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	helper.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { helper.Debug(msg, fields...) }
