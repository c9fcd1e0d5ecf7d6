package bayeux

import "github.com/sirupsen/logrus"

// Logger is the logging facade used throughout the engine, transports, and
// Client. A *logrus.Entry, *logrus.Logger or any other logrus.FieldLogger is
// used through WithFieldLogger, which wraps it to satisfy this interface.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Error(args ...interface{})
}

type wrappedFieldLogger struct {
	logrus.FieldLogger
}

func (w *wrappedFieldLogger) WithField(key string, value interface{}) Logger {
	return &wrappedFieldLogger{w.FieldLogger.WithField(key, value)}
}

func (w *wrappedFieldLogger) WithFields(fields map[string]interface{}) Logger {
	return &wrappedFieldLogger{w.FieldLogger.WithFields(logrus.Fields(fields))}
}

func (w *wrappedFieldLogger) WithError(err error) Logger {
	return &wrappedFieldLogger{w.FieldLogger.WithError(err)}
}

// nullLogger discards everything; it is the default when no logger is given.
type nullLogger struct{}

func newNullLogger() Logger { return &nullLogger{} }

func (n *nullLogger) WithField(string, interface{}) Logger      { return n }
func (n *nullLogger) WithFields(map[string]interface{}) Logger  { return n }
func (n *nullLogger) WithError(error) Logger                    { return n }
func (n *nullLogger) Debug(args ...interface{})                 {}
func (n *nullLogger) Debugf(format string, args ...interface{}) {}
func (n *nullLogger) Info(args ...interface{})                  {}
func (n *nullLogger) Error(args ...interface{})                 {}
