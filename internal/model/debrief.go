package model

import "time"

type EntryType string

const (
	EntryAudio EntryType = "audio"
	EntryText  EntryType = "text"
)

// Status is the processing state of a debrief.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTranscribing Status = "transcribing"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

// Delivery tracks whether the transcript reached the listener. It is kept in
// lock-step with NotifiedAt by the store.
type Delivery string

const (
	DeliveryUndelivered Delivery = "undelivered"
	DeliveryDelivered   Delivery = "delivered"
)

// Completion tracks whether the agent reported the debrief as handled. It is
// kept in lock-step with CompletedAt by the store.
type Completion string

const (
	CompletionOpen      Completion = "open"
	CompletionCompleted Completion = "completed"
)

type Debrief struct {
	ID                int64      `json:"id"`
	UserID            *int64     `json:"user_id"`
	EntryType         EntryType  `json:"entry_type"`
	Status            Status     `json:"status"`
	Delivery          Delivery   `json:"delivery"`
	Completion        Completion `json:"completion"`
	Transcript        string     `json:"transcript"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	RecordedBy        string     `json:"recorded_by"`
	AudioKey          string     `json:"-"`
	AudioFilename     string     `json:"audio_filename,omitempty"`
	AudioContentType  string     `json:"audio_content_type,omitempty"`
	AudioSize         int64      `json:"audio_size,omitempty"`
	CompletionSummary string     `json:"completion_summary,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ProcessedAt       *time.Time `json:"processed_at"`
	NotifiedAt        *time.Time `json:"notified_at"`
	CompletedAt       *time.Time `json:"completed_at"`
}

func (d *Debrief) IsAudio() bool { return d.EntryType == EntryAudio }

func (d *Debrief) IsDone() bool { return d.Status == StatusDone }

func (d *Debrief) IsDelivered() bool { return d.Delivery == DeliveryDelivered }

func (d *Debrief) IsCompleted() bool { return d.Completion == CompletionCompleted }

type Attachment struct {
	ID          int64     `json:"id"`
	DebriefID   int64     `json:"debrief_id"`
	BlobKey     string    `json:"-"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
	CreatedAt   time.Time `json:"created_at"`
}
