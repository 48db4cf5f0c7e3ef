package logging

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold is the duration above which gorm reports a query as slow.
const SlowQueryThreshold = 500 * time.Millisecond

// CronLogger adapts a logrus entry to the cron.Logger interface. Cron's
// informational chatter (schedule, wake, run) is demoted to debug.
type CronLogger struct {
	entry *logrus.Entry
}

var _ cron.Logger = CronLogger{}

// NewCronLogger wraps entry; a nil entry falls back to the base logger.
func NewCronLogger(entry *logrus.Entry) CronLogger {
	if entry == nil {
		entry = ensureLogger()
	}
	return CronLogger{entry: entry.WithField("component", "cron")}
}

// Info implements cron.Logger.
func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(pairsToFields(keysAndValues)).Debug(msg)
}

// Error implements cron.Logger.
func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(pairsToFields(keysAndValues)).WithError(err).Error(msg)
}

// NewGormLogger returns a gorm logger that writes through entry at warn level,
// skipping record-not-found noise.
func NewGormLogger(entry *logrus.Entry) gormlogger.Interface {
	if entry == nil {
		entry = ensureLogger()
	}

	return gormlogger.New(entry.WithField("component", "gorm"), gormlogger.Config{
		SlowThreshold:             SlowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
	})
}

func pairsToFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	if len(keysAndValues)%2 == 1 {
		fields["extra"] = keysAndValues[len(keysAndValues)-1]
	}
	return fields
}
