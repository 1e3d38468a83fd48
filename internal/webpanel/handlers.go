package webpanel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/golnet1/majordomo-bridge/internal/audit"
	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/channels/scheduler"
	"github.com/golnet1/majordomo-bridge/internal/router"
)

// commandTimeout bounds a manual dispatch, controller retries included.
const commandTimeout = 30 * time.Second

// handleGetAliases returns the alias catalog file verbatim, so the operator
// edits exactly what is on disk.
func (s *Server) handleGetAliases(w http.ResponseWriter, _ *http.Request) {
	data, err := os.ReadFile(s.catalogPath)
	if err != nil {
		s.logger.Error("reading alias catalog", "error", err)
		writeInternalError(w, "failed to read alias catalog")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // best-effort write
	w.Write(data)
}

// handlePutAliases validates and replaces the alias catalog, then reloads
// the in-memory copy. Invalid catalogs never reach disk.
func (s *Server) handlePutAliases(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	parsed, err := catalog.Parse(data)
	if err != nil {
		writeValidationError(w, fmt.Sprintf("invalid catalog: %v", err))
		return
	}

	if err := writeFileAtomic(s.catalogPath, data); err != nil {
		s.logger.Error("writing alias catalog", "error", err)
		writeInternalError(w, "failed to write alias catalog")
		return
	}

	if err := s.catalog.Reload(); err != nil {
		s.logger.Error("reloading alias catalog", "error", err)
		writeInternalError(w, "catalog written but reload failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"entries": parsed.Len(),
	})
}

// handleListAudit returns a filtered page of the audit trail.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Source:        q.Get("source"),
		Status:        q.Get("status"),
		CorrelationID: q.Get("correlation_id"),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit records", "error", err)
		writeInternalError(w, "failed to list audit records")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListTasks returns all scheduled tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	if s.schedule == nil {
		writeNotFound(w, "scheduler is disabled")
		return
	}

	tasks, err := s.schedule.List()
	if err != nil {
		s.logger.Error("listing tasks", "error", err)
		writeInternalError(w, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleCreateTask adds a scheduled task.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.schedule == nil {
		writeNotFound(w, "scheduler is disabled")
		return
	}

	var task scheduler.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	created, err := s.schedule.Add(task)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidTask) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("adding task", "error", err)
		writeInternalError(w, "failed to add task")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// handleDeleteTask removes one scheduled task.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if s.schedule == nil {
		writeNotFound(w, "scheduler is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.schedule.Delete(id); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			writeNotFound(w, "task not found")
			return
		}
		s.logger.Error("deleting task", "task_id", id, "error", err)
		writeInternalError(w, "failed to delete task")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleDeleteAllTasks clears the schedule.
func (s *Server) handleDeleteAllTasks(w http.ResponseWriter, _ *http.Request) {
	if s.schedule == nil {
		writeNotFound(w, "scheduler is disabled")
		return
	}

	n, err := s.schedule.DeleteAll()
	if err != nil {
		s.logger.Error("deleting all tasks", "error", err)
		writeInternalError(w, "failed to delete tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted": n})
}

// commandRequest is the manual dispatch body for POST /command.
type commandRequest struct {
	Action        string   `json:"action"`
	Target        string   `json:"target"`
	Object        string   `json:"object"`
	Property      string   `json:"property"`
	Value         string   `json:"value"`
	Kind          string   `json:"kind"`
	CategoryHints []string `json:"category_hints"`
}

// handleCommand dispatches a manual command through the router, same path
// as every other channel.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	action, err := router.ParseAction(req.Action)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	res := s.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "webpanel",
		CorrelationID: "panel-" + uuid.NewString()[:8],
		User:          "operator",
		Action:        action,
		Target:        req.Target,
		Object:        req.Object,
		Property:      req.Property,
		Value:         req.Value,
		Kind:          catalog.Kind(req.Kind),
		CategoryHints: req.CategoryHints,
	})

	writeJSON(w, http.StatusOK, res)
}

// handleUpdateStatus returns the cached release check result.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, _ *http.Request) {
	if s.updates == nil {
		writeNotFound(w, "update checks are disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.updates.Status())
}

// writeFileAtomic writes data via a temp file and rename so readers never
// see a partial catalog.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".aliases-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}
