package logger

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// New builds the process logger: JSON in release mode, text otherwise.
func New(level string, release bool) *logrus.Logger {
	return NewWithOutput(os.Stdout, level, release)
}

func NewWithOutput(out io.Writer, level string, release bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if release {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		log.WithField("level", level).Warn("unknown log level, using info")
	}
	log.SetLevel(lvl)
	return log
}

// Gin logs one line per request.
func Gin(log logrus.FieldLogger) gin.HandlerFunc {
	log = log.WithField("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if fields["path"] == "" {
			fields["path"] = c.Request.URL.Path
		}
		if userID, ok := c.Get("userID"); ok {
			fields["user_id"] = userID
		}
		entry := log.WithFields(fields)
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// Gorm bridges gorm's logger onto logrus.
type Gorm struct {
	log           logrus.FieldLogger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewGorm(log logrus.FieldLogger) *Gorm {
	return &Gorm{log: log.WithField("component", "gorm"), level: gormlogger.Warn, slowThreshold: 200 * time.Millisecond}
}

func (g *Gorm) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *Gorm) Info(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		g.log.Infof(msg, args...)
	}
}

func (g *Gorm) Warn(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.log.Warnf(msg, args...)
	}
}

func (g *Gorm) Error(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		g.log.Errorf(msg, args...)
	}
}

func (g *Gorm) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.log.WithError(err).WithFields(logrus.Fields{"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds()}).Error("query failed")
	case elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.log.WithFields(logrus.Fields{"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds()}).Warn("slow query")
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.log.WithFields(logrus.Fields{"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds()}).Debug("query")
	}
}
