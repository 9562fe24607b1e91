package logging

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

var log = logrus.New()

// UTCFormatter stamps every entry in UTC before delegating.
type UTCFormatter struct {
	logrus.Formatter
}

func (u UTCFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

// Init configures the process logger: JSON in production, plain text
// elsewhere. An unknown level falls back to info.
func Init(environment, level string) *logrus.Logger {
	log.SetOutput(os.Stdout)

	if strings.EqualFold(environment, "production") {
		log.SetFormatter(UTCFormatter{&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
		}})
	} else {
		log.SetFormatter(UTCFormatter{&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		}})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

func Logger() *logrus.Logger {
	return log
}

// WithContext returns an entry on the process logger carrying trace_id and
// span_id when ctx holds a valid span.
func WithContext(ctx context.Context) *logrus.Entry {
	return FromContext(ctx, log)
}

// FromContext is WithContext for an explicit logger.
func FromContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	entry := logrus.NewEntry(logger)
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		entry = entry.WithFields(logrus.Fields{
			"trace_id": spanCtx.TraceID().String(),
			"span_id":  spanCtx.SpanID().String(),
		})
	}
	return entry
}
