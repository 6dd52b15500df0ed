package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/isdmx/pyexec/orchestrator"
)

type installRequest struct {
	SessionID string   `json:"session_id"`
	Packages  []string `json:"packages"`
}

type executeRequest struct {
	SessionID string            `json:"session_id"`
	Code      string            `json:"code"`
	Env       map[string]string `json:"env"`
}

type terminateRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	enq, err := s.svc.EnqueueInstall(r.Context(), req.SessionID, req.Packages)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusAccepted, enq)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	enq, err := s.svc.EnqueueExecute(r.Context(), req.SessionID, req.Code, req.Env)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusAccepted, enq)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")

	rec, found, err := s.svc.Status(r.Context(), taskID)
	if err != nil {
		s.logger.Error("status lookup failed", zap.String("task_id", taskID), zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	if !found {
		s.errorResponse(w, http.StatusNotFound, "Task not found.")
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	sessionID := r.FormValue("session_id")

	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	s.logger.Info("received upload",
		zap.String("session_id", sessionID),
		zap.String("filename", header.Filename))

	storage, err := s.svc.Upload(r.Context(), sessionID, header.Filename, file)
	if err != nil {
		s.logger.Error("upload failed", zap.String("session_id", sessionID), zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "upload failed")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"filename": header.Filename,
		"storage":  storage,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	filename := r.URL.Query().Get("filename")

	dl, err := s.svc.DownloadFile(r.Context(), sessionID, filename)
	if errors.Is(err, orchestrator.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "File not found.")
		return
	}
	if err != nil {
		s.logger.Error("download failed", zap.String("session_id", sessionID), zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "could not resolve download")
		return
	}

	if dl.URL != "" {
		s.jsonResponse(w, http.StatusOK, map[string]string{"url": dl.URL})
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, dl.Path)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existed, err := s.svc.Terminate(r.Context(), req.SessionID)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	message := fmt.Sprintf("Session %s terminated successfully.", req.SessionID)
	if !existed {
		message = fmt.Sprintf("Session %s not found.", req.SessionID)
	}
	// Terminate is idempotent: both outcomes are a success.
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) jsonResponse(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, detail string) {
	s.jsonResponse(w, code, map[string]string{"detail": detail})
}
