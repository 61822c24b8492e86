package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/pipeforge/conduit/api"
)

// New builds the root host logger at the given level. Unknown levels
// fall back to info.
func New(level string) api.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Named returns a component-scoped child of the given logger
func Named(base api.Logger, component string) api.Logger {
	return base.With("component", component)
}

// logrusLogger implements api.Logger on a logrus entry
type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Error(msg)
}

func (l *logrusLogger) With(args ...interface{}) api.Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields(args))}
}

// fields parses alternating key/value args, skipping non-string keys
func fields(args []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		f[key] = args[i+1]
	}
	return f
}
