// Package monitoring owns the process-wide diagnostic logger.
package monitoring

import (
	"go.uber.org/zap"
)

// Logf is the package-level diagnostic logger. It defaults to a zap
// development logger but may be replaced by SetLogger or UseZap. Tests or
// production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = defaultLogger().Infof

func defaultLogger() *zap.SugaredLogger {
	l, err := zap.NewDevelopment(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// UseZap routes Logf through l at info level. A nil logger mutes output.
func UseZap(l *zap.Logger) {
	if l == nil {
		SetLogger(nil)
		return
	}
	Logf = l.WithOptions(zap.AddCallerSkip(1)).Sugar().Infof
}

// NewLogger builds the zap logger used by command-line tools: production
// encoding, debug level when verbose.
func NewLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
