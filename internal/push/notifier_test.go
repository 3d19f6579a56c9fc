package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dukerupert/debrief/internal/model"
)

type fakeSender struct {
	sent    []string
	results map[string]error
	payload Payload
}

func (f *fakeSender) Send(_ context.Context, sub *model.PushSubscription, p Payload) error {
	f.sent = append(f.sent, sub.Endpoint)
	f.payload = p
	return f.results[sub.Endpoint]
}

type fakeDebriefs map[int64]*model.Debrief

func (f fakeDebriefs) GetByID(id int64) (*model.Debrief, error) { return f[id], nil }

type fakeSubs struct {
	byUser  map[int64][]model.PushSubscription
	deleted []int64
}

func (f *fakeSubs) ListByUser(userID int64) ([]model.PushSubscription, error) {
	return f.byUser[userID], nil
}

func (f *fakeSubs) Delete(id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func owner(id int64) *int64 { return &id }

func TestNotifyCompletionSendsToEachSubscription(t *testing.T) {
	sender := &fakeSender{results: map[string]error{
		"https://push/gone": ErrExpired,
		"https://push/down": errors.New("503"),
	}}
	subs := &fakeSubs{byUser: map[int64][]model.PushSubscription{
		7: {
			{ID: 1, Endpoint: "https://push/ok"},
			{ID: 2, Endpoint: "https://push/gone"},
			{ID: 3, Endpoint: "https://push/down"},
		},
	}}
	debriefs := fakeDebriefs{42: {ID: 42, UserID: owner(7), CompletionSummary: "Fixed the sink"}}

	n := NewNotifier(sender, debriefs, subs, discardLogger())
	sent, err := n.NotifyCompletion(context.Background(), 42)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if len(sender.sent) != 3 {
		t.Errorf("attempts = %d, want 3", len(sender.sent))
	}
	if len(subs.deleted) != 1 || subs.deleted[0] != 2 {
		t.Errorf("deleted = %v, want [2]", subs.deleted)
	}
	if sender.payload.Title != "Task Completed" || sender.payload.Data.Path != "/debriefs/42" || sender.payload.Icon != "/icon.png" {
		t.Errorf("payload = %+v", sender.payload)
	}
}

func TestNotifyCompletionSkips(t *testing.T) {
	sender := &fakeSender{}
	subs := &fakeSubs{byUser: map[int64][]model.PushSubscription{7: {{ID: 1, Endpoint: "https://push/ok"}}}}
	debriefs := fakeDebriefs{
		1: {ID: 1, UserID: owner(7), CompletionSummary: "   "},
		2: {ID: 2, CompletionSummary: "no owner"},
	}
	n := NewNotifier(sender, debriefs, subs, discardLogger())

	for _, id := range []int64{1, 2, 99} {
		sent, err := n.NotifyCompletion(context.Background(), id)
		if err != nil {
			t.Fatalf("notify %d: %v", id, err)
		}
		if sent != 0 {
			t.Errorf("debrief %d: sent = %d, want 0", id, sent)
		}
	}
	if len(sender.sent) != 0 {
		t.Errorf("sender called %d times, want 0", len(sender.sent))
	}
}

func TestCompletionPayloadTruncates(t *testing.T) {
	d := &model.Debrief{ID: 5, CompletionSummary: strings.Repeat("a", 150)}
	p := CompletionPayload(d)
	if len([]rune(p.Body)) != 100 {
		t.Errorf("body length = %d, want 100", len([]rune(p.Body)))
	}
	if !strings.HasSuffix(p.Body, "...") {
		t.Errorf("body = %q, want ... suffix", p.Body)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	if got := Truncate("héllo wörld", 8); got != "héllo..." {
		t.Errorf("Truncate = %q, want %q", got, "héllo...")
	}
}
