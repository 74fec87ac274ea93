package alert

import "github.com/scraplab/autopricer/internal/logger"

// LogOnly is the alerter used when Telegram is not configured. Every
// notification lands in the log instead.
type LogOnly struct{}

func (LogOnly) Notify(message string) {
	logger.Warn("Alert: %s", message)
}

func (LogOnly) NotifyError(component string, cause error) {
	logger.Error("Alert from %s: %v", component, cause)
}

func (LogOnly) NotifyRecovery(component string, failureCount int) {
	logger.Info("Alert: %s recovered after %d failure(s)", component, failureCount)
}
