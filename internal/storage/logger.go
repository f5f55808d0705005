package storage

import (
	"context"
	"errors"
	"time"

	"piper/internal/ctxkeys"
	"piper/internal/logger"

	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold 超过该耗时的 SQL 以 warn 级别记录
var SlowQueryThreshold = 500 * time.Millisecond

// GormLogger 将 GORM 日志转发到 logger.Logger
type GormLogger struct {
	log   logger.Logger
	level glogger.LogLevel
}

// NewGormLogger 创建 GormLogger，默认只记录警告与错误
func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{log: l, level: glogger.Warn}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level glogger.LogLevel) glogger.Interface {
	out := *l
	out.level = level
	return &out
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= glogger.Info {
		l.log.Info(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= glogger.Warn {
		l.log.Warn(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= glogger.Error {
		l.log.Error(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

// Trace 记录 SQL；记录不存在不视为错误
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= glogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"traceId", ctxkeys.TraceID(ctx),
		"sql", sql,
		"rows", rows,
		"elapsed", elapsed,
	}
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= glogger.Error:
		l.log.Err(err, "SQL执行错误", fields...)
	case elapsed > SlowQueryThreshold && l.level >= glogger.Warn:
		l.log.Warn("慢SQL查询", fields...)
	case l.level >= glogger.Info:
		l.log.Debug("SQL执行", fields...)
	}
}
