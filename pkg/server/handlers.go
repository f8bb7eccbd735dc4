package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/events"
	"github.com/go-go-golems/codeact/pkg/inference"
	"github.com/go-go-golems/codeact/pkg/preview"
	"github.com/go-go-golems/codeact/pkg/recorder"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type healthResponse struct {
	Status        string          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Version       string          `json:"version"`
	Environment   string          `json:"environment"`
	Features      map[string]bool `json:"features"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Version:       s.version,
		Environment:   s.environment,
		Features: map[string]bool{
			"server_preview": s.renderer != nil,
			"live_preview":   s.livePreview,
			"events":         s.subscriber != nil,
			"transcripts":    s.recorder != nil,
		},
	})
}

type createConversationRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	MaxTurns int    `json:"max_turns"`
}

type conversationResponse struct {
	codeact.Snapshot
	TurnID string `json:"turn_id,omitempty"`
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := uuid.NewString()
	opts := []codeact.Option{
		codeact.WithID(id),
		codeact.WithTitle(req.Title),
		codeact.WithMaxTurns(req.MaxTurns),
	}
	if s.publisher != nil {
		opts = append(opts, codeact.WithSinks(
			inference.NewWatermillSink(s.publisher, events.TopicAll, events.ConversationTopic(id)),
		))
	}
	m, err := s.store.Create(opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := conversationResponse{}
	if req.Message != "" {
		turnID, err := m.Submit(r.Context(), req.Message)
		if err != nil {
			if derr := s.store.Delete(id); derr != nil {
				zerolog.Ctx(r.Context()).Warn().Err(derr).Str("conversation_id", id).Msg("could not drop conversation")
			}
			writeError(w, statusFor(err), err)
			return
		}
		resp.TurnID = turnID
	}
	resp.Snapshot = m.Snapshot()
	zerolog.Ctx(r.Context()).Info().Str("conversation_id", id).Msg("created conversation")
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(chi.URLParam(r, "conversationID")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	TurnID string        `json:"turn_id"`
	State  codeact.State `json:"state"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	turnID, err := m.Submit(r.Context(), req.Text)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{TurnID: turnID, State: m.State()})
}

type previewRequest struct {
	TurnID  string `json:"turn_id"`
	Code    string `json:"code,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type previewResponse struct {
	Outcome codeact.Outcome `json:"outcome"`
	State   codeact.State   `json:"state"`
}

// handlePreviewResult takes the outcome of a preview rendered by the client.
func (s *Server) handlePreviewResult(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var req previewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TurnID == "" {
		writeError(w, http.StatusBadRequest, errors.New("turn_id is required"))
		return
	}
	outcome := m.HandlePreviewResult(r.Context(), codeact.PreviewReport{
		TurnID: req.TurnID,
		Code:   req.Code,
		Result: preview.Result{Success: req.Success, Error: req.Error},
	})
	writeJSON(w, http.StatusOK, previewResponse{Outcome: outcome, State: m.State()})
}

type executeRequest struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

type executeResponse struct {
	ExecutionID string `json:"execution_id"`
	FileName    string `json:"file_name"`
	preview.Result
}

// handleExecute renders a snippet on the server and archives it.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.renderer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("server-side preview is disabled"))
		return
	}
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}

	result := s.renderer.Render(r.Context(), req.Code)
	name := req.Name
	if name == "" && result.Resolution != nil {
		name = result.Resolution.Component
	}
	c := recorder.NewComponent(uuid.NewString(), name, req.Code, result.Success, result.Error)
	if s.recorder != nil {
		if err := s.recorder.ArchiveComponent(r.Context(), c); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("could not archive component")
		}
	}
	writeJSON(w, http.StatusOK, executeResponse{ExecutionID: c.ExecutionID, FileName: c.FileName, Result: result})
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("transcripts are disabled"))
		return
	}
	components, err := s.recorder.Components(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if components == nil {
		components = []recorder.Component{}
	}
	writeJSON(w, http.StatusOK, components)
}

func (s *Server) handleTranscriptList(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("transcripts are disabled"))
		return
	}
	list, err := s.recorder.List(r.Context(), recorder.Query{State: r.URL.Query().Get("state"), Limit: 100})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []recorder.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTranscriptGet(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("transcripts are disabled"))
		return
	}
	t, err := s.recorder.Load(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, codeact.ErrUnknownConversation):
		return http.StatusNotFound
	case errors.Is(err, codeact.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, codeact.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, codeact.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
