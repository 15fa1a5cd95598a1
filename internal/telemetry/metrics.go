package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/event"
)

var (
	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_sessions_started_total",
		Help: "Sessions started, by mode.",
	}, []string{"mode"})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_submissions_total",
		Help: "Completed submissions, by trigger.",
	}, []string{"trigger"})

	submitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiz_submit_failures_total",
		Help: "Submissions still pending after all retries.",
	})

	expirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiz_timer_expirations_total",
		Help: "Exam countdowns that reached zero.",
	})
)

// MonitorSessions derives metrics from session lifecycle events.
func MonitorSessions(eb *event.Bus) {
	eb.Subscribe(domain.EventNameSessionStarted, func(_ context.Context, e event.Event) error {
		sessionsStarted.WithLabelValues(string(e.(domain.EventSessionStarted).Mode)).Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameSubmitted, func(_ context.Context, e event.Event) error {
		trigger := "manual"
		if e.(domain.EventSubmitted).Auto {
			trigger = "auto"
		}
		submissions.WithLabelValues(trigger).Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameSubmitFailed, func(_ context.Context, _ event.Event) error {
		submitFailures.Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameSessionExpired, func(_ context.Context, _ event.Event) error {
		expirations.Inc()
		return nil
	})
}
