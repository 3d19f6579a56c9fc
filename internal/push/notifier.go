package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/debrief/internal/metrics"
	"github.com/dukerupert/debrief/internal/model"
)

const (
	completionTitle = "Task Completed"
	completionIcon  = "/icon.png"
	maxBodyLen      = 100
)

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

type DebriefGetter interface {
	GetByID(id int64) (*model.Debrief, error)
}

type SubscriptionStore interface {
	ListByUser(userID int64) ([]model.PushSubscription, error)
	Delete(id int64) error
}

// Notifier fans a completion report out to the owner's subscriptions.
type Notifier struct {
	sender   Sender
	debriefs DebriefGetter
	subs     SubscriptionStore
	logger   *slog.Logger
}

func NewNotifier(sender Sender, debriefs DebriefGetter, subs SubscriptionStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		debriefs: debriefs,
		subs:     subs,
		logger:   logger.With("component", "push"),
	}
}

// CompletionPayload builds the notification for a completed debrief.
func CompletionPayload(d *model.Debrief) Payload {
	return Payload{
		Title: completionTitle,
		Body:  Truncate(strings.TrimSpace(d.CompletionSummary), maxBodyLen),
		Icon:  completionIcon,
		Data:  PayloadData{Path: fmt.Sprintf("/debriefs/%d", d.ID)},
	}
}

// NotifyCompletion sends one push per subscription of the debrief owner.
// Failures are per subscription: expired ones are deleted, others logged.
// It returns the number of notifications sent.
func (n *Notifier) NotifyCompletion(ctx context.Context, debriefID int64) (int, error) {
	d, err := n.debriefs.GetByID(debriefID)
	if err != nil {
		return 0, fmt.Errorf("get debrief: %w", err)
	}
	if d == nil {
		n.logger.Warn("debrief not found for push", "debrief_id", debriefID)
		return 0, nil
	}
	if strings.TrimSpace(d.CompletionSummary) == "" || d.UserID == nil {
		return 0, nil
	}

	subs, err := n.subs.ListByUser(*d.UserID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	payload := CompletionPayload(d)
	sent := 0
	for i := range subs {
		sub := &subs[i]
		err := n.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			sent++
			metrics.PushTotal.WithLabelValues("sent").Inc()
		case errors.Is(err, ErrExpired):
			metrics.PushTotal.WithLabelValues("expired").Inc()
			n.logger.Info("removing expired push subscription", "subscription_id", sub.ID)
			if err := n.subs.Delete(sub.ID); err != nil {
				n.logger.Error("failed to delete expired subscription", "subscription_id", sub.ID, "error", err)
			}
		default:
			metrics.PushTotal.WithLabelValues("error").Inc()
			n.logger.Error("push notification failed", "subscription_id", sub.ID, "error", err)
		}
	}
	return sent, nil
}

// Truncate shortens s to at most n runes, ending in "..." when cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
