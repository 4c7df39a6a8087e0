// Package api exposes the lifecycle facade over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// Manager is the slice of the lifecycle facade the HTTP surface needs.
type Manager interface {
	Start(ctx context.Context, cfg backend.ServerConfig) (backend.Instance, error)
	Stop(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (backend.Instance, error)
	List(ctx context.Context) ([]backend.Instance, error)
	Logs(ctx context.Context, id string, tail int) (string, error)
	Execute(ctx context.Context, id string, msg *protocol.Message) (*protocol.Message, error)
}

// McpRoutes holds the handlers for server lifecycle operations.
type McpRoutes struct {
	manager Manager
}

// McpRouter assembles the /mcp subrouter.
func McpRouter(manager Manager) http.Handler {
	routes := McpRoutes{manager: manager}

	r := chi.NewRouter()
	r.Post("/start", routes.startServer)
	r.Get("/status", routes.getStatus)
	r.Get("/list", routes.listServers)
	r.Delete("/stop", routes.stopServer)
	r.Get("/logs", routes.getLogs)
	r.Post("/execute", routes.executeServer)
	return r
}

// HealthcheckRouter answers liveness probes.
func HealthcheckRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

type startResponse struct {
	ServerID string        `json:"server_id"`
	State    backend.State `json:"state"`
}

type statusResponse struct {
	ServerID string        `json:"server_id"`
	State    backend.State `json:"state"`
	Backend  backend.Tag   `json:"backend"`
	Cause    string        `json:"cause,omitempty"`
}

type listResponse struct {
	Servers []backend.Instance `json:"servers"`
}

type stopResponse struct {
	ServerID string        `json:"server_id"`
	State    backend.State `json:"state"`
}

type logsResponse struct {
	ServerID string `json:"server_id"`
	Logs     string `json:"logs"`
}

func (s *McpRoutes) startServer(w http.ResponseWriter, r *http.Request) {
	var cfg backend.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, errors.NewConfigValidationError("invalid request body: "+err.Error(), err))
		return
	}

	inst, err := s.manager.Start(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startResponse{ServerID: inst.ID, State: inst.State})
}

func (s *McpRoutes) getStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.NewConfigValidationError("id query parameter is required", nil))
		return
	}

	inst, err := s.manager.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		ServerID: inst.ID,
		State:    inst.State,
		Backend:  inst.Tag,
		Cause:    inst.FailureCause,
	})
}

func (s *McpRoutes) listServers(w http.ResponseWriter, r *http.Request) {
	instances, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if instances == nil {
		instances = []backend.Instance{}
	}
	writeJSON(w, http.StatusOK, listResponse{Servers: instances})
}

func (s *McpRoutes) stopServer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.NewConfigValidationError("id query parameter is required", nil))
		return
	}

	if err := s.manager.Stop(r.Context(), id); err != nil {
		// An unknown or already removed identifier is informational on
		// stop, not a failure.
		if errors.IsNotFound(err) {
			writeJSON(w, http.StatusOK, stopResponse{ServerID: id, State: backend.StateNotFound})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stopResponse{ServerID: id, State: backend.StateTerminating})
}

func (s *McpRoutes) executeServer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.NewConfigValidationError("id query parameter is required", nil))
		return
	}

	var msg protocol.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errors.NewConfigValidationError("invalid request body: "+err.Error(), err))
		return
	}

	resp, err := s.manager.Execute(r.Context(), id, &msg)
	if err != nil {
		writeError(w, err)
		return
	}
	// Notifications have no response.
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *McpRoutes) getLogs(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.NewConfigValidationError("id query parameter is required", nil))
		return
	}

	tail := 0
	if raw := r.URL.Query().Get("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, errors.NewConfigValidationError("tail must be a non-negative integer", err))
			return
		}
		tail = parsed
	}

	logs, err := s.manager.Logs(r.Context(), id, tail)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, logsResponse{ServerID: id, Logs: logs})
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
	Cause string `json:"cause,omitempty"`
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsConfigValidation(err), errors.IsUnsupportedOperation(err):
		status = http.StatusBadRequest
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsBackendUnavailable(err):
		status = http.StatusServiceUnavailable
	}

	resp := errorResponse{Error: err.Error()}
	var typed *errors.Error
	if errors.AsError(err, &typed) {
		resp.Type = typed.Type
		resp.Cause = typed.SubCause
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}
