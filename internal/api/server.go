package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paperflow/internal/apperr"
	"paperflow/internal/blob"
	"paperflow/internal/callback"
	"paperflow/internal/config"
	"paperflow/internal/intake"
	"paperflow/internal/models"
	"paperflow/internal/notify"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"
)

const (
	ownerHeader     = "X-Owner-ID"
	callbackHeader  = "X-Callback-Token"
	maxCallbackBody = 1 << 20
)

// Deps are the services the HTTP surface is built on. Retrier may be nil, in
// which case the retry endpoint answers 503.
type Deps struct {
	Config   config.Config
	Repos    storage.Repos
	Stages   *stagelog.Service
	Intake   *intake.Service
	Callback *callback.Service
	Registry *notify.Registry
	Blobs    *blob.Local
	Retrier  Retrier
	Logger   *slog.Logger
}

type Server struct {
	cfg      config.Config
	repos    storage.Repos
	stages   *stagelog.Service
	intake   *intake.Service
	callback *callback.Service
	registry *notify.Registry
	blobs    *blob.Local
	retrier  Retrier
	logger   *slog.Logger
	now      func() time.Time
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		repos:    d.Repos,
		stages:   d.Stages,
		intake:   d.Intake,
		callback: d.Callback,
		registry: d.Registry,
		blobs:    d.Blobs,
		retrier:  d.Retrier,
		logger:   d.Logger.With("component", "api"),
		now:      time.Now,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/papers", s.handlePapers)
	mux.HandleFunc("/papers/", s.handlePapersScoped)
	if s.blobs != nil {
		mux.Handle(blob.FilesPrefix, s.blobs.Handler())
	}
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 366 {
			writeAppErr(w, apperr.Validation("days must be between 1 and 366"))
			return
		}
		days = n
	}
	since := storage.Day(s.now()).AddDate(0, 0, -(days - 1))
	stats, err := s.repos.Stats.ListStats(r.Context(), since)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since, "stats": stats})
}

func (s *Server) handlePapers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	ownerID, err := ownerFrom(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAppErr(w, apperr.Validation(fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxUploadBytes)))
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, fh, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no file provided"))
		return
	}
	defer f.Close()

	paper, err := s.intake.Upload(r.Context(), intake.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	}, ownerID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paper)
}

func (s *Server) handlePapersScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/papers/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	paperID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || paperID <= 0 {
		writeAppErr(w, apperr.Validation("paper id must be a positive integer"))
		return
	}

	// The extraction engine is not a user; it authenticates with the shared
	// callback token instead of an owner id.
	if len(parts) == 2 && parts[1] == "callback" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleCallback(w, r, paperID)
		return
	}

	ownerID, err := ownerFrom(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handlePaperStatus(w, r, paperID, ownerID)
	case len(parts) == 2 && parts[1] == "analyze":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		req, err := s.intake.RequestAnalysis(r.Context(), paperID, ownerID)
		if err != nil {
			writeAppErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"paper_id": paperID, "request": req})
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleEvents(w, r, paperID, ownerID)
	case len(parts) == 2 && parts[1] == "retry":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleRetry(w, r, paperID, ownerID)
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request, paperID int64) {
	if s.cfg.CallbackToken != "" {
		got := r.Header.Get(callbackHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CallbackToken)) != 1 {
			writeAppErr(w, apperr.AccessDenied("invalid callback token"))
			return
		}
	}
	var result models.ExtractionResult
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody)).Decode(&result); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if err := s.callback.ReceiveExtractionResult(r.Context(), paperID, result); err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handlePaperStatus is the durable view a client falls back to when it missed
// a live notification.
func (s *Server) handlePaperStatus(w http.ResponseWriter, r *http.Request, paperID, ownerID int64) {
	ctx := r.Context()
	paper, err := s.authorize(r, paperID, ownerID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	history, err := s.stages.History(ctx, paperID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	artifacts, err := s.repos.Artifacts.ListArtifacts(ctx, paperID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	resp := map[string]any{
		"paper":     paper,
		"stages":    history,
		"artifacts": artifacts,
	}
	summary, err := s.repos.Summaries.GetSummaryByPaper(ctx, paperID)
	switch {
	case err == nil:
		resp["summary"] = summary
	case apperr.Is(err, apperr.CodeNotFound):
	default:
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, paperID, ownerID int64) {
	if _, err := s.authorize(r, paperID, ownerID); err != nil {
		writeAppErr(w, err)
		return
	}
	conn, err := notify.NewSSEConn(w)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.registry.Serve(r.Context(), paperID, conn); err != nil {
		s.logger.Debug("event stream ended", "paper_id", paperID, "error", err)
	}
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, paperID, ownerID int64) {
	stage := models.Stage(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("stage"))))
	if !stage.Valid() {
		writeAppErr(w, apperr.Validation("stage must be EXTRACT or SUMMARIZE"))
		return
	}
	if _, err := s.authorize(r, paperID, ownerID); err != nil {
		writeAppErr(w, err)
		return
	}
	if s.retrier == nil {
		writeAppErr(w, apperr.Unavailable("stage retry is not configured"))
		return
	}
	workflowID, runID, err := s.retrier.StartRetry(r.Context(), paperID, stage)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"paper_id":    paperID,
		"stage":       stage,
		"workflow_id": workflowID,
		"run_id":      runID,
	})
}

func (s *Server) authorize(r *http.Request, paperID, ownerID int64) (models.Paper, error) {
	paper, err := s.repos.Papers.GetPaper(r.Context(), paperID)
	if err != nil {
		return models.Paper{}, err
	}
	if paper.OwnerID != ownerID {
		return models.Paper{}, apperr.AccessDenied(fmt.Sprintf("paper %d belongs to another owner", paperID))
	}
	return paper, nil
}

// ownerFrom reads the caller's owner id from the X-Owner-ID header. Browsers
// cannot set headers on an EventSource, so owner_id is accepted as a query
// parameter too.
func ownerFrom(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(ownerHeader))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("owner_id"))
	}
	if raw == "" {
		return 0, &apperr.Error{Code: apperr.CodeAccessDenied, Status: http.StatusUnauthorized, Message: "owner id is required"}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("owner id must be a positive integer")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAppErr(w http.ResponseWriter, err error) {
	writeErr(w, apperr.StatusOf(err), err)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "PF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		return apiError{Code: "PF-API-5020", Message: "Upstream dependency unavailable. Retry shortly."}
	case status == http.StatusServiceUnavailable:
		return apiError{Code: "PF-API-5030", Message: "Service temporarily unavailable. Retry shortly."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "PF-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "PF-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "PF-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "PF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusUnauthorized:
		code = "PF-API-4010"
		msg = "Owner identity is required."
	case status == http.StatusForbidden:
		code = "PF-API-4030"
		msg = "Access to this paper is denied."
	case status == http.StatusNotFound:
		code = "PF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "PF-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "PF-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// Coded 4xx errors carry messages written for the caller.
	var appErr *apperr.Error
	if status >= 400 && status < 500 && errors.As(err, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	} else if status == http.StatusBadRequest {
		switch {
		case strings.Contains(raw, "no file provided"):
			msg = "No PDF file was provided."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "parse multipart"):
			msg = "Malformed multipart upload."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Owner-ID, X-Callback-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
