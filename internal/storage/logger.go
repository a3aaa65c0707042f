package storage

import (
	"context"
	"time"

	"dnrharness/internal/ctxkeys"
	ilog "dnrharness/internal/logger"

	gormlogger "gorm.io/gorm/logger"
)

// slowThreshold 慢 SQL 阈值
const slowThreshold = 200 * time.Millisecond

// GormLogger 把 GORM 日志转到 logger.Logger，附带运行 ID 和场景名
type GormLogger struct {
	log   ilog.Logger
	level gormlogger.LogLevel
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger 默认只记录告警和错误
func NewGormLogger(l ilog.Logger) *GormLogger {
	return &GormLogger{log: l, level: gormlogger.Warn}
}

// LogMode 返回指定级别的副本
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Info {
		g.log.Info(msg, withRun(ctx, "data", data)...)
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(msg, withRun(ctx, "data", data)...)
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Error {
		g.log.Error(msg, withRun(ctx, "data", data)...)
	}
}

// Trace 记录每条 SQL：出错记 error，慢查询记 warn，Info 级别下其余记 debug
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	kv := withRun(ctx, "sql", sql, "rows", rows, "elapsed", elapsed)

	switch {
	case err != nil && g.level >= gormlogger.Error:
		g.log.Err(err, "SQL执行错误", kv...)
	case elapsed > slowThreshold && g.level >= gormlogger.Warn:
		g.log.Warn("慢SQL查询", append(kv, "threshold", slowThreshold)...)
	case g.level >= gormlogger.Info:
		g.log.Debug("SQL执行", kv...)
	}
}

func withRun(ctx context.Context, kv ...any) []any {
	return append([]any{"runID", ctxkeys.RunID(ctx), "scenario", ctxkeys.Scenario(ctx)}, kv...)
}
