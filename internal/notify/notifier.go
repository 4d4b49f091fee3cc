// Package notify delivers engine alerts to the operator's chat channels.
// Each alert carries a typed Event; the notifier filters on the events the
// operator subscribed to and fans the notification out to every sender.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel (Telegram chat, Discord webhook).
type Sender interface {
	Send(ctx context.Context, n Notification) error
	// Name identifies the channel in logs and combined errors.
	Name() string
}

// Notifier fans notifications out to the registered senders. Notify drops
// events outside the subscribed set; NotifyAll bypasses the filter and is
// reserved for alerts the operator must always see.
type Notifier struct {
	senders    []Sender
	subscribed map[Event]bool
	logger     *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. An empty subscription
// list subscribes to every event.
func NewNotifier(senders []Sender, subscribed []Event, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(subscribed))
	for _, e := range subscribed {
		allowed[Event(strings.TrimSpace(string(e)))] = true
	}
	return &Notifier{
		senders:    senders,
		subscribed: allowed,
		logger:     logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the event to all senders if the operator subscribed to it.
func (n *Notifier) Notify(ctx context.Context, event Event, title, body string) error {
	if len(n.subscribed) > 0 && !n.subscribed[event] {
		n.logger.DebugContext(ctx, "event not subscribed, dropping",
			slog.String("event", string(event)),
		)
		return nil
	}
	return n.dispatch(ctx, Notification{Event: event, Title: title, Body: body})
}

// NotifyAll delivers regardless of the subscription filter.
func (n *Notifier) NotifyAll(ctx context.Context, event Event, title, body string) error {
	return n.dispatch(ctx, Notification{Event: event, Title: title, Body: body})
}

// dispatch sends to every sender. One failing channel never blocks the
// others; failures are collected into a single combined error.
func (n *Notifier) dispatch(ctx context.Context, msg Notification) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(msg.Event)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", string(msg.Event)),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
