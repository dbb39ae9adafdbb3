package scheduler

import "log/slog"

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.logger != nil {
		l.logger.Debug("cron: "+msg, keysAndValues...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.logger != nil {
		l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
	}
}
