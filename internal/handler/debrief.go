package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dukerupert/debrief/internal/auth"
	"github.com/dukerupert/debrief/internal/blob"
	"github.com/dukerupert/debrief/internal/debrief"
	"github.com/dukerupert/debrief/internal/model"
	"github.com/dukerupert/debrief/internal/pipeline"
	"github.com/dukerupert/debrief/internal/store"
)

const (
	maxUploadSize  = 100 << 20
	recentDebriefs = 50
)

type DebriefHandler struct {
	debriefStore *store.DebriefStore
	blobs        blob.Store
	pipeline     *pipeline.Pipeline
	logger       *slog.Logger
}

func NewDebriefHandler(ds *store.DebriefStore, blobs blob.Store, p *pipeline.Pipeline, logger *slog.Logger) *DebriefHandler {
	return &DebriefHandler{debriefStore: ds, blobs: blobs, pipeline: p, logger: logger}
}

// Create handles POST /debriefs. The form carries either an audio file or
// entry_type=text with text_content and optional attachments.
func (h *DebriefHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusUnprocessableEntity, "invalid upload")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	userID := auth.UserID(r.Context())
	d := &model.Debrief{
		UserID:     &userID,
		RecordedBy: auth.UserName(r.Context()),
	}

	var (
		attachments []model.Attachment
		stored      []string
	)
	cleanup := func() {
		for _, key := range stored {
			if err := h.blobs.Delete(context.WithoutCancel(r.Context()), key); err != nil {
				h.logger.Warn("remove orphaned blob", "key", key, "error", err)
			}
		}
	}

	if r.FormValue("entry_type") == string(model.EntryText) {
		d.EntryType = model.EntryText
		d.Transcript = strings.TrimSpace(r.FormValue("text_content"))
		if d.Transcript == "" {
			writeError(w, http.StatusUnprocessableEntity, "text_content is required")
			return
		}
		for _, fh := range formFiles(r, "attachments[]", "attachments") {
			key, err := h.storeFile(r.Context(), "attachments", fh)
			if err != nil {
				cleanup()
				h.logger.Error("store attachment", "error", err)
				writeError(w, http.StatusInternalServerError, "failed to store attachment")
				return
			}
			stored = append(stored, key)
			attachments = append(attachments, model.Attachment{
				BlobKey:     key,
				Filename:    fh.Filename,
				ContentType: contentType(fh),
				ByteSize:    fh.Size,
			})
		}
	} else {
		d.EntryType = model.EntryAudio
		files := formFiles(r, "audio")
		if len(files) == 0 {
			writeError(w, http.StatusUnprocessableEntity, "audio is required")
			return
		}
		fh := files[0]
		key, err := h.storeFile(r.Context(), "audio", fh)
		if err != nil {
			h.logger.Error("store audio", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store audio")
			return
		}
		stored = append(stored, key)
		d.AudioKey = key
		d.AudioFilename = fh.Filename
		d.AudioContentType = contentType(fh)
		d.AudioSize = fh.Size
	}

	created, err := h.debriefStore.Create(d, attachments)
	if err != nil {
		cleanup()
		if errors.Is(err, store.ErrAudioRequired) || errors.Is(err, store.ErrTranscriptRequired) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("create debrief", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create debrief")
		return
	}

	// A refused job leaves the debrief failed; the owner retries it from the list.
	if err := h.pipeline.Submitted(created); err != nil {
		h.logger.Error("queue debrief", "debrief_id", created.ID, "error", err)
	}

	http.Redirect(w, r, "/debriefs", http.StatusSeeOther)
}

func (h *DebriefHandler) storeFile(ctx context.Context, prefix string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	key := blob.NewKey(prefix, fh.Filename)
	if err := h.blobs.Put(ctx, key, contentType(fh), f, fh.Size); err != nil {
		return "", err
	}
	return key, nil
}

func formFiles(r *http.Request, names ...string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	var files []*multipart.FileHeader
	for _, name := range names {
		for _, fh := range r.MultipartForm.File[name] {
			if fh.Size > 0 {
				files = append(files, fh)
			}
		}
	}
	return files
}

func contentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// List handles GET /debriefs
func (h *DebriefHandler) List(w http.ResponseWriter, r *http.Request) {
	debriefs, err := h.debriefStore.ListRecentByUser(auth.UserID(r.Context()), recentDebriefs)
	if err != nil {
		h.logger.Error("list debriefs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list debriefs")
		return
	}
	if debriefs == nil {
		debriefs = []model.Debrief{}
	}
	writeJSON(w, http.StatusOK, debriefs)
}

type debriefDetail struct {
	*model.Debrief
	Attachments []model.Attachment `json:"attachments"`
}

// Get handles GET /debriefs/{id}
func (h *DebriefHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}
	attachments, err := h.debriefStore.ListAttachments(d.ID)
	if err != nil {
		h.logger.Error("list attachments", "debrief_id", d.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get debrief")
		return
	}
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	writeJSON(w, http.StatusOK, debriefDetail{Debrief: d, Attachments: attachments})
}

// Delete handles DELETE /debriefs/{id}
func (h *DebriefHandler) Delete(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}

	attachments, err := h.debriefStore.ListAttachments(d.ID)
	if err != nil {
		h.logger.Error("list attachments", "debrief_id", d.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete debrief")
		return
	}

	if err := h.debriefStore.Delete(d.ID); err != nil {
		h.logger.Error("delete debrief", "debrief_id", d.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete debrief")
		return
	}

	keys := make([]string, 0, len(attachments)+1)
	if d.AudioKey != "" {
		keys = append(keys, d.AudioKey)
	}
	for _, a := range attachments {
		keys = append(keys, a.BlobKey)
	}
	for _, key := range keys {
		if err := h.blobs.Delete(r.Context(), key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			h.logger.Warn("delete blob", "debrief_id", d.ID, "key", key, "error", err)
		}
	}

	h.pipeline.Deleted(d)
	http.Redirect(w, r, "/debriefs", http.StatusSeeOther)
}

// Resend handles POST /debriefs/{id}/resend
func (h *DebriefHandler) Resend(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}

	if _, err := h.pipeline.Resend(d); err != nil {
		if errors.Is(err, debrief.ErrNotDone) {
			writeError(w, http.StatusUnprocessableEntity, "only completed transcriptions can be resent")
			return
		}
		h.logger.Error("resend debrief", "debrief_id", d.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resend debrief")
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/debriefs/%d", d.ID), http.StatusSeeOther)
}

// Retry handles POST /debriefs/{id}/retry
func (h *DebriefHandler) Retry(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}

	if _, err := h.pipeline.Retry(d); err != nil {
		if errors.Is(err, debrief.ErrNotRetryable) || errors.Is(err, debrief.ErrInvalidTransition) {
			writeError(w, http.StatusUnprocessableEntity, "only failed recordings can be retried")
			return
		}
		h.logger.Error("retry debrief", "debrief_id", d.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retry debrief")
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/debriefs/%d", d.ID), http.StatusSeeOther)
}

// load fetches the debrief named by the path, scoped to the current user.
// Debriefs owned by someone else are reported as missing.
func (h *DebriefHandler) load(w http.ResponseWriter, r *http.Request) (*model.Debrief, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	d, err := h.debriefStore.GetForUser(id, auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get debrief", "debrief_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get debrief")
		return nil, false
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "debrief not found")
		return nil, false
	}
	return d, true
}
