package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ex-scribe/internal/cachesync"
	"ex-scribe/pkg/scribe"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type statusResponse struct {
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type agentsResponse struct {
	Agents []string `json:"agents"`
}

type historyResponse struct {
	Agent    string            `json:"agent"`
	Messages scribe.Transcript `json:"messages"`
}

type appendBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modifyBody struct {
	Content string `json:"content"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.cache.Agents(r.Context())
	if err != nil {
		s.writeError(w, r, "list agents", err)
		return
	}
	if agents == nil {
		agents = []string{}
	}

	writeJSON(w, http.StatusOK, agentsResponse{Agents: agents})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	transcript, found, err := s.cache.ReadTranscript(r.Context(), agentID)
	if err != nil {
		s.writeError(w, r, "read history", err)
		return
	}
	if !found {
		s.writeError(w, r, "read history", fmt.Errorf("%w: %s", scribe.ErrAgentNotFound, agentID))
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Agent: agentID, Messages: transcript.Clone()})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")

	var body appendBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, "append message", err)
		return
	}
	role, err := scribe.ParseRole(body.Role)
	if err != nil {
		s.writeError(w, r, "append message", fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	message := scribe.NewMessage(role, body.Content)
	if err := message.Validate(); err != nil {
		s.writeError(w, r, "append message", fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	notice := cachesync.Notice(r.Context(), s.cache, agentID, -1)
	s.writeOutcome(w, r, "append message", notice, s.cache.SubmitAppend(r.Context(), agentID, message))
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	index, err := pathIndex(r)
	if err != nil {
		s.writeError(w, r, "modify message", err)
		return
	}

	var body modifyBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, "modify message", err)
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		s.writeError(w, r, "modify message", fmt.Errorf("%w: missing content", errBadRequest))
		return
	}

	notice := cachesync.Notice(r.Context(), s.cache, agentID, index)
	s.writeOutcome(w, r, "modify message", notice, s.cache.SubmitModify(r.Context(), agentID, index, body.Content))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	index, err := pathIndex(r)
	if err != nil {
		s.writeError(w, r, "remove message", err)
		return
	}

	notice := cachesync.Notice(r.Context(), s.cache, agentID, index)
	s.writeOutcome(w, r, "remove message", notice, s.cache.SubmitRemove(r.Context(), agentID, index))
}

// writeOutcome reports a submitted edit. The edit is queued whenever err is
// nil; notice only warns that the cached snapshot had no matching target.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, scope string, notice string, err error) {
	if err != nil {
		s.writeError(w, r, scope, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: cachesync.OutcomeUpdated, Warning: notice})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, scope string, err error) {
	status := statusForError(err)
	message := cachesync.Outcome(err)
	if status == http.StatusBadRequest {
		message = err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "web request failed",
			"scope", scope,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}

	writeJSON(w, status, errorResponse{Error: message})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, scribe.ErrAgentNotFound), errors.Is(err, scribe.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, scribe.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pathIndex(r *http.Request) (int, error) {
	raw := r.PathValue("index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid index %q", errBadRequest, raw)
	}
	if index < 0 {
		return 0, fmt.Errorf("%w: index must be >= 0", errBadRequest)
	}

	return index, nil
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
