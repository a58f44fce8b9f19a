package logging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

const DefaultSlowQuery = 200 * time.Millisecond

// GormLogger routes gorm output through logrus. Plain queries log at debug.
type GormLogger struct {
	logger    *logrus.Logger
	slowQuery time.Duration
	level     gormlogger.LogLevel
}

func NewGormLogger(logger *logrus.Logger, slowQuery time.Duration) *GormLogger {
	return &GormLogger{
		logger:    logger,
		slowQuery: slowQuery,
		level:     gormlogger.Warn,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.level = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.WithContext(ctx).Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.WithContext(ctx).Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.WithContext(ctx).Errorf(msg, data...)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	entry := l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"elapsed": elapsed,
		"rows":    rows,
		"sql":     sql,
	})

	switch {
	case err != nil && err != gormlogger.ErrRecordNotFound:
		entry.Error(err)
	case l.slowQuery > 0 && elapsed > l.slowQuery:
		entry.Warnf("SLOW SQL >= %v", l.slowQuery)
	default:
		entry.Debug("SQL")
	}
}
