// Package notify fans payment and evaluation alerts out to chat channels,
// filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// Event types operators can subscribe to in notify.events.
const (
	EventPaymentSucceeded   = "payment_succeeded"
	EventPaymentFailed      = "payment_failed"
	EventProvisioningFailed = "provisioning_failed"
	EventEvaluationStatus   = "evaluation_status"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender. Notify forwards only allowed event
// types; an empty allow list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders restricted to events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends title and message when event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyPayment announces a resolved payment session. Confirmed payments
// whose provisioning failed get their own event so they can be routed to
// whoever handles recovery.
func (n *Notifier) NotifyPayment(ctx context.Context, s domain.PaymentSession) error {
	event, title := PaymentEvent(s)
	if event == "" {
		return nil
	}
	return n.Notify(ctx, event, title, PaymentMessage(s))
}

// PaymentEvent maps a session to its event type and title. Non-terminal
// sessions map to "".
func PaymentEvent(s domain.PaymentSession) (event, title string) {
	switch {
	case s.State == domain.PaymentSucceeded:
		return EventPaymentSucceeded, "Evaluation purchased"
	case s.NeedsRecovery():
		return EventProvisioningFailed, "Payment confirmed, provisioning failed"
	case s.State == domain.PaymentFailed:
		return EventPaymentFailed, "Payment failed"
	}
	return "", ""
}

// PaymentMessage renders the body for a payment notification.
func PaymentMessage(s domain.PaymentSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "trader: %s\n", s.Trader)
	fmt.Fprintf(&b, "offer: %s %s (%s %s)\n", s.Offer.Phase, s.Offer.ExamType, s.Offer.Price, s.Offer.Currency)
	if s.TransactionHash != "" {
		fmt.Fprintf(&b, "tx: %s\n", s.TransactionHash)
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", s.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

// dispatch delivers to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
