// Package notify delivers out-of-band alerts to the party responsible for a
// course when a doubt is raised. Delivery is best effort: the doubt service
// triggers it asynchronously and a transport failure is logged and counted,
// never surfaced to the student who created the doubt.
package notify

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Notifier is any transport that can deliver a plain-text alert to an address.
type Notifier interface {
	// Notify sends subject/body to address, honoring ctx for cancellation.
	Notify(ctx context.Context, address, subject, body string) error
}

var notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "doubt_notifications_total",
		Help: "Doubt notification dispatch attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(notifications)
}

// ObserveDispatch records a dispatch outcome. Called by the doubt service
// after the asynchronous Notify completes.
func ObserveDispatch(err error) {
	if err != nil {
		notifications.WithLabelValues("error").Inc()
		return
	}
	notifications.WithLabelValues("ok").Inc()
}

// NewDoubtAlert formats the notification sent to a course's educator when a
// doubt is created.
func NewDoubtAlert(title, description string) (subject, body string) {
	subject = "New Doubt Posted"
	body = fmt.Sprintf(
		"A new doubt has been posted in your course:\n\n"+
			"Title: %s\nDescription: %s\n\n"+
			"Please login to respond to this doubt.",
		title, description,
	)
	return subject, body
}

// Console is a development and test transport that writes notifications to
// the structured log instead of sending mail.
type Console struct{}

// Notify logs the alert at info level and always succeeds.
func (Console) Notify(_ context.Context, address, subject, body string) error {
	log.Info().
		Str("to", address).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("notification (console)")
	return nil
}
