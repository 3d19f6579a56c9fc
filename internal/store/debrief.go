package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/debrief/internal/debrief"
	"github.com/dukerupert/debrief/internal/model"
)

var (
	ErrAudioRequired      = errors.New("audio entry requires an audio file")
	ErrTranscriptRequired = errors.New("text entry requires content")
)

type DebriefStore struct {
	db *sql.DB
}

func NewDebriefStore(db *sql.DB) *DebriefStore {
	return &DebriefStore{db: db}
}

const debriefCols = `id, user_id, entry_type, status, delivery, completion, transcript, error_message,
	recorded_by, audio_key, audio_filename, audio_content_type, audio_size, completion_summary,
	created_at, updated_at, processed_at, notified_at, completed_at`

func scanDebrief(sc scanner) (*model.Debrief, error) {
	var d model.Debrief
	var userID sql.NullInt64
	var processedAt, notifiedAt, completedAt sql.NullTime

	err := sc.Scan(
		&d.ID, &userID, &d.EntryType, &d.Status, &d.Delivery, &d.Completion, &d.Transcript, &d.ErrorMessage,
		&d.RecordedBy, &d.AudioKey, &d.AudioFilename, &d.AudioContentType, &d.AudioSize, &d.CompletionSummary,
		&d.CreatedAt, &d.UpdatedAt, &processedAt, &notifiedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	d.UserID = int64Ptr(userID)
	d.ProcessedAt = timePtr(processedAt)
	d.NotifiedAt = timePtr(notifiedAt)
	d.CompletedAt = timePtr(completedAt)
	return &d, nil
}

func scanDebriefs(rows *sql.Rows) ([]model.Debrief, error) {
	var out []model.Debrief
	for rows.Next() {
		d, err := scanDebrief(rows)
		if err != nil {
			return nil, fmt.Errorf("scan debrief: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Create inserts a debrief and its attachments. The initial status is derived
// from the entry type: text entries are done immediately.
func (s *DebriefStore) Create(d *model.Debrief, attachments []model.Attachment) (*model.Debrief, error) {
	switch d.EntryType {
	case model.EntryAudio:
		if d.AudioKey == "" {
			return nil, ErrAudioRequired
		}
	case model.EntryText:
		if strings.TrimSpace(d.Transcript) == "" {
			return nil, ErrTranscriptRequired
		}
	default:
		return nil, fmt.Errorf("unknown entry type %q", d.EntryType)
	}

	ts := now()
	status := debrief.InitialStatus(d.EntryType)
	var processedAt sql.NullTime
	if status == model.StatusDone {
		processedAt = sql.NullTime{Time: ts, Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO debriefs (user_id, entry_type, status, delivery, completion, transcript, recorded_by,
			audio_key, audio_filename, audio_content_type, audio_size, created_at, updated_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(d.UserID), d.EntryType, status, model.DeliveryUndelivered, model.CompletionOpen, d.Transcript, d.RecordedBy,
		d.AudioKey, d.AudioFilename, d.AudioContentType, d.AudioSize, ts, ts, processedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert debrief: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for _, a := range attachments {
		if _, err := tx.Exec(
			`INSERT INTO attachments (debrief_id, blob_key, filename, content_type, byte_size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, a.BlobKey, a.Filename, a.ContentType, a.ByteSize, ts,
		); err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit debrief: %w", err)
	}
	return s.GetByID(id)
}

func (s *DebriefStore) GetByID(id int64) (*model.Debrief, error) {
	row := s.db.QueryRow(`SELECT `+debriefCols+` FROM debriefs WHERE id = ?`, id)
	d, err := scanDebrief(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get debrief: %w", err)
	}
	return d, nil
}

// GetForUser returns the debrief only if it is owned by userID.
func (s *DebriefStore) GetForUser(id, userID int64) (*model.Debrief, error) {
	row := s.db.QueryRow(`SELECT `+debriefCols+` FROM debriefs WHERE id = ? AND user_id = ?`, id, userID)
	d, err := scanDebrief(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get debrief for user: %w", err)
	}
	return d, nil
}

// ListRecentByUser returns the user's debriefs, newest first.
func (s *DebriefStore) ListRecentByUser(userID int64, limit int) ([]model.Debrief, error) {
	rows, err := s.db.Query(
		`SELECT `+debriefCols+` FROM debriefs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list debriefs by user: %w", err)
	}
	defer rows.Close()
	return scanDebriefs(rows)
}

// ListRecent returns debriefs across all users, newest first.
func (s *DebriefStore) ListRecent(limit int) ([]model.Debrief, error) {
	rows, err := s.db.Query(`SELECT `+debriefCols+` FROM debriefs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list debriefs: %w", err)
	}
	defer rows.Close()
	return scanDebriefs(rows)
}

// ListUndelivered returns done debriefs the listener has not received, oldest first.
func (s *DebriefStore) ListUndelivered() ([]model.Debrief, error) {
	rows, err := s.db.Query(
		`SELECT `+debriefCols+` FROM debriefs WHERE status = ? AND delivery = ? ORDER BY created_at ASC, id ASC`,
		model.StatusDone, model.DeliveryUndelivered,
	)
	if err != nil {
		return nil, fmt.Errorf("list undelivered debriefs: %w", err)
	}
	defer rows.Close()
	return scanDebriefs(rows)
}

// ListPendingTranscription returns audio debriefs whose transcription never finished.
func (s *DebriefStore) ListPendingTranscription() ([]model.Debrief, error) {
	rows, err := s.db.Query(
		`SELECT `+debriefCols+` FROM debriefs WHERE entry_type = ? AND status IN (?, ?) ORDER BY created_at ASC, id ASC`,
		model.EntryAudio, model.StatusPending, model.StatusTranscribing,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending transcription: %w", err)
	}
	defer rows.Close()
	return scanDebriefs(rows)
}

// transition moves a debrief to a new status if the state machine allows it.
// The UPDATE is guarded on the status that was read so a concurrent change
// is reported instead of overwritten.
func (s *DebriefStore) transition(id int64, to model.Status, set string, args ...any) (*model.Debrief, error) {
	d, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	if err := debrief.Transition(d.Status, to); err != nil {
		return nil, err
	}

	query := `UPDATE debriefs SET status = ?, updated_at = ?`
	if set != "" {
		query += ", " + set
	}
	query += ` WHERE id = ? AND status = ?`

	params := append([]any{to, now()}, args...)
	params = append(params, id, d.Status)

	result, err := s.db.Exec(query, params...)
	if err != nil {
		return nil, fmt.Errorf("update debrief status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: status of debrief %d changed concurrently", debrief.ErrInvalidTransition, id)
	}
	return s.GetByID(id)
}

func (s *DebriefStore) MarkTranscribing(id int64) (*model.Debrief, error) {
	return s.transition(id, model.StatusTranscribing, "error_message = ''")
}

func (s *DebriefStore) MarkDone(id int64, transcript string) (*model.Debrief, error) {
	return s.transition(id, model.StatusDone, "transcript = ?, error_message = '', processed_at = ?", transcript, now())
}

func (s *DebriefStore) MarkFailed(id int64, message string) (*model.Debrief, error) {
	return s.transition(id, model.StatusFailed, "error_message = ?", message)
}

// ResetForRetry puts a failed debrief back to pending.
func (s *DebriefStore) ResetForRetry(id int64) (*model.Debrief, error) {
	return s.transition(id, model.StatusPending, "error_message = ''")
}

// MarkDelivered records that the listener has the transcript. The first
// notified_at is kept so repeated acknowledgements are no-ops.
func (s *DebriefStore) MarkDelivered(id int64) (*model.Debrief, error) {
	ts := now()
	result, err := s.db.Exec(
		`UPDATE debriefs SET delivery = ?, notified_at = COALESCE(notified_at, ?), updated_at = ? WHERE id = ?`,
		model.DeliveryDelivered, ts, ts, id,
	)
	if err != nil {
		return nil, fmt.Errorf("mark debrief delivered: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// ClearDelivery marks a debrief as needing delivery again.
func (s *DebriefStore) ClearDelivery(id int64) (*model.Debrief, error) {
	result, err := s.db.Exec(
		`UPDATE debriefs SET delivery = ?, notified_at = NULL, updated_at = ? WHERE id = ?`,
		model.DeliveryUndelivered, now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("clear debrief delivery: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

// Complete stores the agent's completion summary.
func (s *DebriefStore) Complete(id int64, summary string) (*model.Debrief, error) {
	ts := now()
	result, err := s.db.Exec(
		`UPDATE debriefs SET completion = ?, completion_summary = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		model.CompletionCompleted, summary, ts, ts, id,
	)
	if err != nil {
		return nil, fmt.Errorf("complete debrief: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

func (s *DebriefStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM debriefs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete debrief: %w", err)
	}
	return nil
}

// CountByStatus returns the number of debriefs in each processing status.
func (s *DebriefStore) CountByStatus() (map[model.Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM debriefs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count debriefs: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status model.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const attachmentCols = `id, debrief_id, blob_key, filename, content_type, byte_size, created_at`

func scanAttachment(sc scanner) (*model.Attachment, error) {
	var a model.Attachment
	if err := sc.Scan(&a.ID, &a.DebriefID, &a.BlobKey, &a.Filename, &a.ContentType, &a.ByteSize, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *DebriefStore) ListAttachments(debriefID int64) ([]model.Attachment, error) {
	rows, err := s.db.Query(`SELECT `+attachmentCols+` FROM attachments WHERE debrief_id = ? ORDER BY id`, debriefID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *DebriefStore) GetAttachment(id int64) (*model.Attachment, error) {
	row := s.db.QueryRow(`SELECT `+attachmentCols+` FROM attachments WHERE id = ?`, id)
	a, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}
