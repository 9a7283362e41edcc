// Package notify defines the outbound notification channel used for operator
// alerts. Delivery is fire-and-forget: failures are logged and never block
// the state transition they accompany.
package notify

import (
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Severity classifies a notification.
type Severity string

const (
	// SeverityInfo is routine operational information.
	SeverityInfo Severity = "info"
	// SeverityWarning needs operator attention but not immediately.
	SeverityWarning Severity = "warning"
	// SeverityCritical is rerouted to the stand-in during failover.
	SeverityCritical Severity = "critical"
)

// Notifier is the external delivery channel collaborator.
type Notifier interface {
	// Notify delivers a payload to the audience. Errors are advisory; callers
	// log them and move on.
	Notify(severity Severity, audience, payload string) error
}

// LogNotifier writes notifications to the process log. It is the default
// channel when no external bridge is configured.
type LogNotifier struct{}

// NewLogNotifier returns a Notifier backed by the standard logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify logs the notification.
func (*LogNotifier) Notify(severity Severity, audience, payload string) error {
	log.Printf("[notify] %s -> %s: %s", severity, audience, payload)
	return nil
}

// BreakerNotifier wraps a Notifier in a circuit breaker so a dead delivery
// channel stops being hammered while the scheduler keeps running.
type BreakerNotifier struct {
	inner Notifier
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerNotifier wraps the given Notifier in a circuit breaker that trips
// after 5 consecutive delivery failures and tests recovery after 30 seconds.
func NewBreakerNotifier(inner Notifier) *BreakerNotifier {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[notify] circuit breaker %q: %s -> %s", name, from, to)
		},
	})
	return &BreakerNotifier{inner: inner, cb: cb}
}

// Notify delivers through the breaker. When the circuit is open the
// notification is dropped with an error; delivery is fire-and-forget so the
// caller only logs it.
func (n *BreakerNotifier) Notify(severity Severity, audience, payload string) error {
	_, err := n.cb.Execute(func() (interface{}, error) {
		return nil, n.inner.Notify(severity, audience, payload)
	})
	return err
}
