// Package pipeline moves debriefs from upload to delivery: transcription,
// relay to the listener, and completion pushes, all run on the job runner.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/debrief/internal/blob"
	"github.com/dukerupert/debrief/internal/debrief"
	"github.com/dukerupert/debrief/internal/jobs"
	"github.com/dukerupert/debrief/internal/metrics"
	"github.com/dukerupert/debrief/internal/model"
	"github.com/dukerupert/debrief/internal/relay"
	"github.com/dukerupert/debrief/internal/websocket"
)

// Job kinds registered on the runner.
const (
	KindTranscribe = "transcribe"
	KindRelay      = "relay"
	KindPush       = "push"
)

type DebriefStore interface {
	GetByID(id int64) (*model.Debrief, error)
	MarkTranscribing(id int64) (*model.Debrief, error)
	MarkDone(id int64, transcript string) (*model.Debrief, error)
	MarkFailed(id int64, message string) (*model.Debrief, error)
	ResetForRetry(id int64) (*model.Debrief, error)
	MarkDelivered(id int64) (*model.Debrief, error)
	ClearDelivery(id int64) (*model.Debrief, error)
	ListPendingTranscription() ([]model.Debrief, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

type RelaySender interface {
	Send(ctx context.Context, p relay.Payload) error
}

type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, debriefID int64) (int, error)
}

type Enqueuer interface {
	Register(kind string, h jobs.Handler)
	Enqueue(kind string, debriefID int64) error
}

// Broadcaster pushes live updates to a user's open clients.
type Broadcaster interface {
	SendToUser(userID int64, msg websocket.Message)
}

type Pipeline struct {
	debriefs    DebriefStore
	blobs       blob.Store
	transcriber Transcriber
	relay       RelaySender
	notifier    CompletionNotifier
	jobs        Enqueuer
	live        Broadcaster
	logger      *slog.Logger
}

type Deps struct {
	Debriefs    DebriefStore
	Blobs       blob.Store
	Transcriber Transcriber
	Relay       RelaySender
	Notifier    CompletionNotifier
	Jobs        Enqueuer
	Live        Broadcaster
	Logger      *slog.Logger
}

// New builds the pipeline and registers its job handlers on deps.Jobs.
func New(deps Deps) *Pipeline {
	p := &Pipeline{
		debriefs:    deps.Debriefs,
		blobs:       deps.Blobs,
		transcriber: deps.Transcriber,
		relay:       deps.Relay,
		notifier:    deps.Notifier,
		jobs:        deps.Jobs,
		live:        deps.Live,
		logger:      deps.Logger.With("component", "pipeline"),
	}
	p.jobs.Register(KindTranscribe, p.Transcribe)
	p.jobs.Register(KindRelay, p.Relay)
	p.jobs.Register(KindPush, p.Push)
	return p
}

// Submitted starts processing for a newly created debrief: audio goes to
// transcription, text entries are already done and go straight to relay.
func (p *Pipeline) Submitted(d *model.Debrief) error {
	p.broadcast(d, "created")
	if d.IsAudio() {
		return p.queueTranscription(d.ID)
	}
	return p.enqueue(KindRelay, d.ID)
}

// Resend clears the delivery record of a done debrief and relays it again.
func (p *Pipeline) Resend(d *model.Debrief) (*model.Debrief, error) {
	if err := debrief.CheckResend(d); err != nil {
		return nil, err
	}
	updated, err := p.debriefs.ClearDelivery(d.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}
	if err := p.enqueue(KindRelay, d.ID); err != nil {
		return nil, err
	}
	return updated, nil
}

// Retry puts a failed audio debrief back in the transcription queue.
func (p *Pipeline) Retry(d *model.Debrief) (*model.Debrief, error) {
	if err := debrief.CheckRetry(d); err != nil {
		return nil, err
	}
	updated, err := p.debriefs.ResetForRetry(d.ID)
	if err != nil {
		return nil, err
	}
	p.broadcast(updated, "retried")
	if err := p.queueTranscription(d.ID); err != nil {
		return nil, err
	}
	return updated, nil
}

// Completed reacts to a completion report from the agent.
func (p *Pipeline) Completed(d *model.Debrief) error {
	p.broadcast(d, "completed")
	if strings.TrimSpace(d.CompletionSummary) == "" {
		return nil
	}
	return p.enqueue(KindPush, d.ID)
}

// Acknowledged reacts to the listener confirming delivery through the
// catch-up API.
func (p *Pipeline) Acknowledged(d *model.Debrief) {
	p.broadcast(d, "delivered")
}

// Deleted tells the owner's clients that a debrief is gone.
func (p *Pipeline) Deleted(d *model.Debrief) {
	p.broadcast(d, "deleted")
}

// Transcribe is the transcription job. A failure is recorded on the debrief
// and returned so the runner retries; a missing or non-audio debrief is a
// permanent error.
func (p *Pipeline) Transcribe(ctx context.Context, id int64) error {
	d, err := p.debriefs.GetByID(id)
	if err != nil {
		return fmt.Errorf("get debrief: %w", err)
	}
	if d == nil {
		return jobs.Permanent(fmt.Errorf("debrief %d not found", id))
	}
	if !d.IsAudio() {
		return jobs.Permanent(fmt.Errorf("debrief %d is not an audio entry", id))
	}
	if d.IsDone() {
		return nil
	}

	logger := p.logger.With("debrief_id", id)

	d, err = p.debriefs.MarkTranscribing(id)
	if err != nil {
		if errors.Is(err, debrief.ErrInvalidTransition) {
			return jobs.Permanent(err)
		}
		return fmt.Errorf("mark transcribing: %w", err)
	}
	p.broadcast(d, "transcribing")

	transcript, err := p.transcribe(ctx, d)
	if err != nil {
		logger.Warn("transcription failed", "error", err)
		p.fail(logger, id, err)
		if errors.Is(err, blob.ErrNotFound) {
			return jobs.Permanent(err)
		}
		return err
	}

	d, err = p.debriefs.MarkDone(id, transcript)
	if err != nil {
		err = fmt.Errorf("mark done: %w", err)
		logger.Warn("saving transcript failed", "error", err)
		p.fail(logger, id, err)
		return err
	}
	logger.Info("transcription complete", "chars", len(transcript))
	p.broadcast(d, "done")

	p.deliver(ctx, d)
	return nil
}

// fail moves a transcribing debrief to failed so the next attempt, or the
// owner's retry, can start it again.
func (p *Pipeline) fail(logger *slog.Logger, id int64, cause error) {
	failed, err := p.debriefs.MarkFailed(id, cause.Error())
	if err != nil {
		logger.Error("failed to record transcription error", "error", err)
		return
	}
	p.broadcast(failed, "failed")
}

func (p *Pipeline) transcribe(ctx context.Context, d *model.Debrief) (string, error) {
	audio, err := blob.ReadAll(ctx, p.blobs, d.AudioKey)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}

	start := time.Now()
	text, err := p.transcriber.Transcribe(ctx, d.AudioFilename, audio)
	metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Relay is the relay job. Delivery is best effort and never retried by the
// runner; undelivered debriefs are picked up through the catch-up API.
func (p *Pipeline) Relay(ctx context.Context, id int64) error {
	d, err := p.debriefs.GetByID(id)
	if err != nil {
		return fmt.Errorf("get debrief: %w", err)
	}
	if d == nil {
		return jobs.Permanent(fmt.Errorf("debrief %d not found", id))
	}
	p.deliver(ctx, d)
	return nil
}

// deliver sends a done debrief to the listener and records delivery on 2xx.
// It reports whether the listener accepted it.
func (p *Pipeline) deliver(ctx context.Context, d *model.Debrief) bool {
	if !d.IsDone() {
		return false
	}
	logger := p.logger.With("debrief_id", d.ID)

	if err := p.relay.Send(ctx, relay.NewPayload(d)); err != nil {
		result := "unreachable"
		if errors.Is(err, relay.ErrRejected) {
			result = "rejected"
		}
		metrics.RelayTotal.WithLabelValues(result).Inc()
		logger.Info("listener notification skipped, will catch up", "reason", err)
		return false
	}

	metrics.RelayTotal.WithLabelValues("delivered").Inc()
	updated, err := p.debriefs.MarkDelivered(d.ID)
	if err != nil {
		logger.Error("failed to record delivery", "error", err)
		return true
	}
	if updated != nil {
		p.broadcast(updated, "delivered")
	}
	return true
}

// Push is the completion push job. Push failures are handled per
// subscription and never retried.
func (p *Pipeline) Push(ctx context.Context, id int64) error {
	sent, err := p.notifier.NotifyCompletion(ctx, id)
	if err != nil {
		return jobs.Permanent(err)
	}
	p.logger.Debug("completion push sent", "debrief_id", id, "sent", sent)
	return nil
}

// Recover re-enqueues audio debriefs whose transcription never finished,
// typically because the process stopped mid-job.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	pending, err := p.debriefs.ListPendingTranscription()
	if err != nil {
		return 0, fmt.Errorf("list pending transcription: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, d := range pending {
		switch d.Status {
		case model.StatusTranscribing:
			if _, err := p.debriefs.MarkFailed(d.ID, "interrupted by restart"); err != nil {
				p.logger.Error("failed to reset interrupted debrief", "debrief_id", d.ID, "error", err)
				continue
			}
			// Already failed, so a refused job leaves it retryable.
			if err := p.enqueue(KindTranscribe, d.ID); err != nil {
				errs = append(errs, err)
				continue
			}
		default:
			if err := p.queueTranscription(d.ID); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		n++
	}
	if n > 0 {
		p.logger.Info("re-enqueued unfinished transcriptions", "count", n)
	}
	return n, errors.Join(errs...)
}

// queueTranscription enqueues a pending debrief. When the runner refuses the
// job the debrief is marked failed rather than left pending.
func (p *Pipeline) queueTranscription(id int64) error {
	err := p.enqueue(KindTranscribe, id)
	if err != nil {
		logger := p.logger.With("debrief_id", id)
		logger.Warn("transcription not queued", "error", err)
		p.fail(logger, id, err)
	}
	return err
}

func (p *Pipeline) enqueue(kind string, id int64) error {
	if err := p.jobs.Enqueue(kind, id); err != nil {
		return fmt.Errorf("enqueue %s for debrief %d: %w", kind, id, err)
	}
	return nil
}

func (p *Pipeline) broadcast(d *model.Debrief, action string) {
	if p.live == nil || d == nil || d.UserID == nil {
		return
	}
	p.live.SendToUser(*d.UserID, websocket.DebriefMessage(d, action))
}
