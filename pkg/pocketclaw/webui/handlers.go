package webui

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/coordinator"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
	maxBodyBytes        = 1 << 20
)

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, msg string, code int) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	chans := make(map[string]string)
	if s.deps.Channels != nil {
		for name, st := range s.deps.Channels.HealthAll() {
			if st.Connected {
				chans[name] = "connected"
			} else {
				chans[name] = "disconnected"
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
		"channels": chans,
	})
}

// handleStatus implements GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{}
	if c := s.deps.Coordinator; c != nil {
		resp["state"] = c.State()
		resp["queue_len"] = c.QueueLen()
	}
	if s.deps.Settings != nil {
		cur := s.deps.Settings.Current()
		resp["configured"] = cur.Configured()
		resp["assistant_name"] = cur.AssistantName
		resp["provider"] = cur.Provider
		resp["model"] = cur.Model
		resp["settings_version"] = cur.Version
	}
	if s.deps.Channels != nil {
		resp["channels"] = s.deps.Channels.HealthAll()
	}
	resp["scheduler"] = s.deps.Tasks != nil
	writeJSON(w, http.StatusOK, resp)
}

type messageView struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"is_from_me"`
	IsTrigger bool      `json:"is_trigger"`
}

// handleMessages implements GET /api/groups/{id}/messages?limit=N.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, "history not available", http.StatusNotFound)
		return
	}
	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMessageLimit)
	}

	msgs, err := s.deps.History.RecentMessages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.logger.Error("loading messages failed", "group", r.PathValue("id"), "error", err)
		writeError(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// handleCompact implements POST /api/groups/{id}/compact. Compaction runs
// asynchronously; its outcome arrives on the event stream.
func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.Compact(r.Context(), r.PathValue("id")); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "compacting"})
}

// handleReset implements POST /api/groups/{id}/reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.NewSession(r.Context(), r.PathValue("id")); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrBusy):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, coordinator.ErrNotConfigured):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleListTasks implements GET /api/tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, "scheduled tasks are disabled", http.StatusNotFound)
		return
	}
	tasks, err := s.deps.Tasks.LoadTasks(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*scheduler.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type createTaskRequest struct {
	GroupID  string `json:"group_id"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
}

// handleCreateTask implements POST /api/tasks.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, "scheduled tasks are disabled", http.StatusNotFound)
		return
	}
	var req createTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	task, err := scheduler.NewTask(strings.TrimSpace(req.GroupID), req.Schedule, req.Prompt, "api")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Tasks.SaveTask(r.Context(), task); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("task created", "id", task.ID, "group", task.GroupID, "schedule", task.Schedule)
	writeJSON(w, http.StatusCreated, task)
}

// handleGetTask implements GET /api/tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type patchTaskRequest struct {
	Enabled  *bool   `json:"enabled"`
	Schedule *string `json:"schedule"`
	Prompt   *string `json:"prompt"`
}

// handlePatchTask implements PATCH /api/tasks/{id}.
func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	var req patchTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if req.Schedule != nil {
		if _, err := scheduler.ParseSchedule(*req.Schedule); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		task.Schedule = strings.TrimSpace(*req.Schedule)
	}
	if req.Prompt != nil {
		if strings.TrimSpace(*req.Prompt) == "" {
			writeError(w, "prompt must not be empty", http.StatusBadRequest)
			return
		}
		task.Prompt = strings.TrimSpace(*req.Prompt)
	}
	if err := s.deps.Tasks.SaveTask(r.Context(), task); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask implements DELETE /api/tasks/{id}.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, "scheduled tasks are disabled", http.StatusNotFound)
		return
	}
	if err := s.deps.Tasks.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			writeError(w, "task not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*scheduler.Task, bool) {
	if s.deps.Tasks == nil {
		writeError(w, "scheduled tasks are disabled", http.StatusNotFound)
		return nil, false
	}
	task, err := s.deps.Tasks.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			writeError(w, "task not found", http.StatusNotFound)
		} else {
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return nil, false
	}
	return task, true
}

type settingsView struct {
	*settings.Settings
	Configured bool `json:"configured"`
	HasAPIKey  bool `json:"has_api_key"`
}

func viewOf(cur *settings.Settings) settingsView {
	return settingsView{Settings: cur, Configured: cur.Configured(), HasAPIKey: cur.APIKey != ""}
}

// handleGetSettings implements GET /api/settings. The credential is never
// returned, only whether one is set.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.deps.Settings.Current()))
}

type settingsPatch struct {
	AssistantName *string `json:"assistant_name"`
	Provider      *string `json:"provider"`
	Model         *string `json:"model"`
	MaxTokens     *int    `json:"max_tokens"`
	OllamaURL     *string `json:"ollama_url"`
	APIKey        *string `json:"api_key"`
}

func (p settingsPatch) apply(s *settings.Settings) error {
	if p.AssistantName != nil {
		s.AssistantName = strings.TrimSpace(*p.AssistantName)
	}
	if p.Provider != nil {
		s.Provider = strings.TrimSpace(*p.Provider)
	}
	if p.Model != nil {
		s.Model = strings.TrimSpace(*p.Model)
	}
	if p.MaxTokens != nil {
		s.MaxTokens = *p.MaxTokens
	}
	if p.OllamaURL != nil {
		s.OllamaURL = strings.TrimSpace(*p.OllamaURL)
	}
	if p.APIKey != nil {
		s.APIKey = strings.TrimSpace(*p.APIKey)
	}
	return nil
}

// handleUpdateSettings implements PUT /api/settings. Omitted fields keep
// their value; the update is applied atomically or not at all.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	next, err := s.deps.Settings.Update(r.Context(), patch.apply)
	if err != nil {
		s.logger.Warn("settings update rejected", "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(next))
}

// handleWhatsAppQR implements GET /api/channels/whatsapp/qr.
func (s *Server) handleWhatsAppQR(w http.ResponseWriter, _ *http.Request) {
	if s.deps.WhatsApp == nil {
		writeError(w, "whatsapp is not enabled", http.StatusNotFound)
		return
	}
	code := s.deps.WhatsApp.QRCode()
	writeJSON(w, http.StatusOK, map[string]any{"pending": code != "", "code": code})
}
