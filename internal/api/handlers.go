package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/orchestrator"
)

// Audits is the orchestrator surface the HTTP layer depends on.
type Audits interface {
	Submit(ctx context.Context, rawURL string, kinds []audit.ModuleKind, userID string) (orchestrator.Submission, error)
	Cancel(ctx context.Context, requestID string) error
	Status(ctx context.Context, requestID string) (audit.RequestStatus, string, error)
	Report(ctx context.Context, requestID string) (audit.Report, error)
	List(ctx context.Context, userID string, limit int) ([]audit.Request, error)
}

type submitRequest struct {
	URL     string   `json:"url"`
	Modules []string `json:"modules"`
}

type submitResponse struct {
	RequestID string        `json:"request_id"`
	Status    string        `json:"status"`
	Remaining *int          `json:"remaining_scans,omitempty"`
	Cached    bool          `json:"cached,omitempty"`
	Report    *audit.Report `json:"report,omitempty"`
}

type statusResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// userID reads the authenticated user from the request. An absent
// header means an anonymous scan.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	kinds := make([]audit.ModuleKind, 0, len(req.Modules))
	for _, m := range req.Modules {
		kinds = append(kinds, audit.ModuleKind(m))
	}

	sub, err := s.audits.Submit(r.Context(), req.URL, kinds, userID(r))
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	resp := submitResponse{RequestID: sub.RequestID}
	if sub.Remaining >= 0 {
		remaining := sub.Remaining
		resp.Remaining = &remaining
	}
	if sub.Cached != nil {
		resp.Status = string(sub.Cached.Status)
		resp.Cached = true
		resp.Report = sub.Cached
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = string(audit.StatusQueued)
	writeJSON(w, http.StatusAccepted, resp)
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audit.ErrInvalidURL),
		errors.Is(err, audit.ErrPrivateAddress),
		errors.Is(err, audit.ErrUnknownModule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, audit.ErrLimitReached):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}
	limit := defaultListLimit
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if val > maxListLimit {
			val = maxListLimit
		}
		limit = val
	}

	reqs, err := s.audits.List(r.Context(), uid, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reqs == nil {
		reqs = []audit.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": reqs})
}

func (s *Server) getAuditStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	status, errText, err := s.audits.Status(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, audit.ErrRequestNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		RequestID: requestID,
		Status:    string(status),
		Error:     errText,
	})
}

func (s *Server) getAuditReport(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	report, err := s.audits.Report(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, audit.ErrReportNotFound) {
			writeError(w, http.StatusNotFound, "report not ready")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) cancelAudit(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	if err := s.audits.Cancel(r.Context(), requestID); err != nil {
		switch {
		case errors.Is(err, audit.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, "audit not found")
		case errors.Is(err, audit.ErrAlreadyFinished):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"request_id": requestID,
		"status":     string(audit.StatusCanceled),
		"canceled":   time.Now().UTC().Format(time.RFC3339),
	})
}
