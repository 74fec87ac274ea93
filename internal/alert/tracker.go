package alert

// Notifier is the full operator notification surface. Both the Telegram
// client and LogOnly satisfy it.
type Notifier interface {
	Notify(message string)
	NotifyError(component string, cause error)
	NotifyRecovery(component string, failureCount int)
}

// FailureTracker collapses a run of consecutive failures into two
// notifications: one on the first failure and one on recovery. Repeated
// failures in between only count.
type FailureTracker struct {
	notifier  Notifier
	component string
	failures  int
}

// NewFailureTracker creates a tracker reporting for the named component.
func NewFailureTracker(notifier Notifier, component string) *FailureTracker {
	return &FailureTracker{notifier: notifier, component: component}
}

// Observe records one run outcome. Not safe for concurrent use; each
// tracked component observes from its own loop.
func (t *FailureTracker) Observe(err error) {
	if err != nil {
		t.failures++
		if t.failures == 1 {
			t.notifier.NotifyError(t.component, err)
		}
		return
	}
	if t.failures > 0 {
		t.notifier.NotifyRecovery(t.component, t.failures)
	}
	t.failures = 0
}
