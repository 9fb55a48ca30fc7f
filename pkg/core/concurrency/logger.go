package concurrency

import (
	"go.uber.org/zap"
)

// Logger is the structured logging surface the executor needs.
// *zap.SugaredLogger satisfies it directly.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// NewLogger builds a zap-backed Logger. Development mode uses the
// human-readable console encoder and debug level.
func NewLogger(development bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func newDefaultLogger(poolName string) Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar().Named(poolName)
}
