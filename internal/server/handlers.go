package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caffeineduck/datalab/adapter"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON decodes an optional body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type sessionResponse struct {
	ID      string           `json:"id"`
	Created time.Time        `json:"created"`
	State   adapter.Snapshot `json:"state"`
	Error   string           `json:"error,omitempty"`
}

func newSessionResponse(s *Session) sessionResponse {
	return sessionResponse{ID: s.ID, Created: s.Created, State: s.Adapter.State()}
}

type resultResponse struct {
	Output     string            `json:"output"`
	Kind       adapter.ErrorKind `json:"kind"`
	Error      string            `json:"error,omitempty"`
	Plot       string            `json:"plot,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

func newResultResponse(r adapter.Result) resultResponse {
	resp := resultResponse{
		Output:     r.Output,
		Kind:       r.Kind,
		Plot:       r.Plot,
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

// writeResult answers 409 for a busy adapter and 200 for everything else,
// failures included.
func writeResult(w http.ResponseWriter, r adapter.Result) {
	status := http.StatusOK
	if errors.Is(r.Err, adapter.ErrBusy) {
		status = http.StatusConflict
	}
	writeJSON(w, status, newResultResponse(r))
}

// session resolves the {id} URL parameter, answering 404 itself on a miss.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
	}
	return sess, ok
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createSessionRequest struct {
	Lang string `json:"lang"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Lang == "" {
		writeError(w, http.StatusBadRequest, "lang is required")
		return
	}

	sess, err := s.sessions.Create(req.Lang)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type codeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	code := req.Code
	if code == "" {
		code = sess.Adapter.Editor()
	}
	writeResult(w, sess.Adapter.Run(sess.Context(), code))
}

func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sess.Adapter.SetEditor(req.Code)
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

type datasetRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleLoadDataset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req datasetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	writeResult(w, sess.Adapter.LoadDataset(sess.Context(), req.Name))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeResult(w, sess.Adapter.Clear(sess.Context()))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	err := sess.Adapter.Retry(sess.Context())
	if errors.Is(err, adapter.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	resp := newSessionResponse(sess)
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
