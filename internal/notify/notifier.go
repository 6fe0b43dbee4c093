// Package notify tells operators about the protocol events they chose:
// raffle winners, closed auctions, released and refunded escrows. Each
// configured Sender (Telegram, Discord) receives every selected event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// Sender delivers one notification over a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans selected events out to its senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier forwarding the named events. An empty
// events list forwards nothing.
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

// Wants reports whether the named event is forwarded.
func (n *Notifier) Wants(event string) bool {
	return len(n.senders) > 0 && n.events[event]
}

// HandleEvent formats rec and sends it when its name was selected.
func (n *Notifier) HandleEvent(ctx context.Context, rec domain.EventRecord) error {
	if !n.Wants(rec.Name) {
		return nil
	}
	title, message, err := Format(rec)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failing sender does not stop the rest.
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
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
