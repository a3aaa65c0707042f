package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志接口，键值对形式传递字段
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志配置
type Options struct {
	Level  string
	Writer []string
	File   string
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New 根据配置创建日志实例
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writer {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		case "file":
			file := opts.File
			if file == "" {
				file = "logs/dnrharness.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    20,
				MaxBackups: 5,
				MaxAge:     14,
			})
		}
	}
	if len(writers) == 0 {
		return NewNop()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

// NewWriter 输出到指定 writer，测试使用
func NewWriter(w io.Writer, level string) Logger {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		lv = zerolog.DebugLevel
	}
	return &zeroLogger{zl: zerolog.New(w).Level(lv)}
}

// NewNop 空日志
func NewNop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, kv ...any) { fields(l.zl.Debug(), kv).Msg(msg) }
func (l *zeroLogger) Info(msg string, kv ...any)  { fields(l.zl.Info(), kv).Msg(msg) }
func (l *zeroLogger) Warn(msg string, kv ...any)  { fields(l.zl.Warn(), kv).Msg(msg) }
func (l *zeroLogger) Error(msg string, kv ...any) { fields(l.zl.Error(), kv).Msg(msg) }

func (l *zeroLogger) Err(err error, msg string, kv ...any) {
	fields(l.zl.Error().Err(err), kv).Msg(msg)
}

func (l *zeroLogger) With(kv ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(kv); i += 2 {
		ctx = ctx.Interface(key(kv[i]), kv[i+1])
	}
	return &zeroLogger{zl: ctx.Logger()}
}

// fields 将键值对写入事件，奇数个参数时最后一个以 extra 记录
func fields(ev *zerolog.Event, kv []any) *zerolog.Event {
	if ev == nil {
		return ev
	}
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			ev = ev.Interface("extra", kv[i])
			break
		}
		switch v := kv[i+1].(type) {
		case error:
			ev = ev.AnErr(key(kv[i]), v)
		case time.Duration:
			ev = ev.Dur(key(kv[i]), v)
		case string:
			ev = ev.Str(key(kv[i]), v)
		default:
			ev = ev.Interface(key(kv[i]), v)
		}
	}
	return ev
}

func key(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}
