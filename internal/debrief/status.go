// Package debrief holds the rules for moving a debrief through its processing
// and delivery states. The store persists whatever these functions allow.
package debrief

import (
	"errors"
	"fmt"

	"github.com/dukerupert/debrief/internal/model"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotDone is returned when resending a debrief that has no finished transcript.
	ErrNotDone = errors.New("debrief is not done")
	// ErrNotRetryable is returned when retrying anything but a failed audio debrief.
	ErrNotRetryable = errors.New("debrief cannot be retried")
)

var transitions = map[model.Status][]model.Status{
	// A pending debrief the queue refused fails so its owner can retry it.
	model.StatusPending:      {model.StatusTranscribing, model.StatusFailed},
	model.StatusTranscribing: {model.StatusDone, model.StatusFailed},
	// A failed job attempt is retried from the start.
	model.StatusFailed: {model.StatusTranscribing, model.StatusPending},
}

// CanTransition reports whether a debrief may move from one status to another.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a status change and returns a wrapped ErrInvalidTransition
// when it is not allowed.
func Transition(from, to model.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// InitialStatus is the status a new debrief is created with. Text entries are
// done on creation.
func InitialStatus(t model.EntryType) model.Status {
	if t == model.EntryText {
		return model.StatusDone
	}
	return model.StatusPending
}

// CheckResend validates that a debrief can have its relay re-queued.
func CheckResend(d *model.Debrief) error {
	if !d.IsDone() {
		return fmt.Errorf("%w: status is %s", ErrNotDone, d.Status)
	}
	return nil
}

// CheckRetry validates that a debrief can have its transcription re-queued.
func CheckRetry(d *model.Debrief) error {
	if !d.IsAudio() || d.Status != model.StatusFailed {
		return fmt.Errorf("%w: %s entry is %s", ErrNotRetryable, d.EntryType, d.Status)
	}
	return nil
}

// Terminal reports whether a status ends processing.
func Terminal(s model.Status) bool {
	return s == model.StatusDone || s == model.StatusFailed
}
