package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/debrief/internal/blob"
	"github.com/dukerupert/debrief/internal/model"
	"github.com/dukerupert/debrief/internal/pipeline"
	"github.com/dukerupert/debrief/internal/relay"
	"github.com/dukerupert/debrief/internal/store"
)

// APIHandler serves the catch-up endpoints used by the listener. Routes are
// mounted behind the local-network check and carry no session.
type APIHandler struct {
	debriefStore *store.DebriefStore
	blobs        blob.Store
	pipeline     *pipeline.Pipeline
	baseURL      string
	logger       *slog.Logger
}

func NewAPIHandler(ds *store.DebriefStore, blobs blob.Store, p *pipeline.Pipeline, baseURL string, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		debriefStore: ds,
		blobs:        blobs,
		pipeline:     p,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger,
	}
}

type attachmentRef struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

type unnotifiedDebrief struct {
	ID          int64           `json:"id"`
	Transcript  string          `json:"transcript"`
	RecordedBy  string          `json:"recorded_by"`
	CreatedAt   string          `json:"created_at"`
	Attachments []attachmentRef `json:"attachments"`
}

// Unnotified handles GET /api/unnotified
func (h *APIHandler) Unnotified(w http.ResponseWriter, r *http.Request) {
	debriefs, err := h.debriefStore.ListUndelivered()
	if err != nil {
		h.logger.Error("list undelivered", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list debriefs")
		return
	}

	out := make([]unnotifiedDebrief, 0, len(debriefs))
	for _, d := range debriefs {
		attachments, err := h.debriefStore.ListAttachments(d.ID)
		if err != nil {
			h.logger.Error("list attachments", "debrief_id", d.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list debriefs")
			return
		}
		refs := make([]attachmentRef, 0, len(attachments))
		for _, a := range attachments {
			refs = append(refs, attachmentRef{
				Filename:    a.Filename,
				ContentType: a.ContentType,
				URL:         h.attachmentURL(r, a.ID),
			})
		}
		out = append(out, unnotifiedDebrief{
			ID:          d.ID,
			Transcript:  d.Transcript,
			RecordedBy:  d.RecordedBy,
			CreatedAt:   d.CreatedAt.Format(relay.TimeFormat),
			Attachments: refs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) attachmentURL(r *http.Request, id int64) string {
	base := h.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return fmt.Sprintf("%s/api/attachments/%d", base, id)
}

// Ack handles POST /api/notifications/{id}/ack
func (h *APIHandler) Ack(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	d, err := h.debriefStore.MarkDelivered(id)
	if err != nil {
		h.logger.Error("ack debrief", "debrief_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to acknowledge")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "debrief not found")
		return
	}

	h.pipeline.Acknowledged(d)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Complete handles POST /api/debriefs/{id}/complete. The summary may be
// sent as JSON or as a form field.
func (h *APIHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	summary, err := readSummary(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	d, err := h.debriefStore.Complete(id, summary)
	if err != nil {
		h.logger.Error("complete debrief", "debrief_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to complete debrief")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "debrief not found")
		return
	}

	if err := h.pipeline.Completed(d); err != nil {
		h.logger.Error("queue completion push", "debrief_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func readSummary(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Summary string `json:"summary"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return req.Summary, nil
	}
	return r.FormValue("summary"), nil
}

type statusResponse struct {
	ID          int64        `json:"id"`
	Status      model.Status `json:"status"`
	Completed   bool         `json:"completed"`
	CompletedAt *string      `json:"completed_at"`
}

// Status handles GET /api/debriefs/{id}/status
func (h *APIHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	d, err := h.debriefStore.GetByID(id)
	if err != nil {
		h.logger.Error("get debrief", "debrief_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get debrief")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "debrief not found")
		return
	}

	resp := statusResponse{ID: d.ID, Status: d.Status, Completed: d.IsCompleted()}
	if d.CompletedAt != nil {
		s := d.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// Attachment handles GET /api/attachments/{id}
func (h *APIHandler) Attachment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	a, err := h.debriefStore.GetAttachment(id)
	if err != nil {
		h.logger.Error("get attachment", "attachment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get attachment")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}

	rc, err := h.blobs.Get(r.Context(), a.BlobKey)
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	if err != nil {
		h.logger.Error("read attachment", "attachment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read attachment")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(a.ByteSize, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", a.Filename))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream attachment", "attachment_id", id, "error", err)
	}
}
