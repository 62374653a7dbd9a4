package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	liverrors "github.com/conneroisu/livegen/internal/errors"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(context.Background(), err, "encoding response")
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case liverrors.IsNotFound(err):
		status = http.StatusNotFound
	case liverrors.IsType(err, liverrors.ErrorTypeConfig),
		liverrors.IsRequiredInputMissing(err),
		liverrors.IsType(err, liverrors.ErrorTypeReference):
		status = http.StatusBadRequest
	case liverrors.IsTimeout(err):
		status = http.StatusGatewayTimeout
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Nodes())
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigPath string `json:"config_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConfigPath == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "config_path is required"})
		return
	}
	node, err := s.engine.Register(r.Context(), req.ConfigPath)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, node)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.engine.GetNode(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleUnregisterNode(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unregister(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

func (s *Server) handleNodeInputs(w http.ResponseWriter, r *http.Request) {
	inputs, err := s.engine.NodeInputs(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inputs)
}

func (s *Server) handleNodeFileInputs(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.FileInputs(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleNodeLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := s.engine.Logs(r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OutputPath  string                 `json:"output_path"`
		InputValues map[string]interface{} `json:"input_values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OutputPath == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "output_path is required"})
		return
	}
	id, err := s.engine.CreateInstance(r.Context(), r.PathValue("id"), req.OutputPath, req.InputValues)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"instance_id": id})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RebuildInstances(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	if nodeID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "node_id is required"})
		return
	}
	if _, err := s.engine.GetNode(nodeID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Instances(nodeID))
}

func (s *Server) handleWatchedFiles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.WatchedFiles(r.PathValue("id")))
}

func (s *Server) handleTailBuffer(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}
	lines := s.engine.TailBuffer(path)
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "lines": lines})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := s.engine.DependencyGraph(r.URL.Query().Get("node_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, graph)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if r.Body != nil {
		// A missing or invalid body is tolerated: webhooks may POST empty.
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	id, err := s.engine.TriggerWebhook(r.Context(), r.PathValue("id"), payload, headers)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"trigger_id": id})
}
