package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	v1 "pulse/contracts/feed/v1"
	"pulse/cmd/internal/feed"
	"pulse/cmd/internal/notify"
)

// apiHandler serves the JSON API: the notification feed and the event replay
// endpoint backing the polling fallback.
type apiHandler struct {
	log      *slog.Logger
	verifier feed.TokenVerifier
	svc      *notify.Service
	replay   *feed.Replay
}

func newAPIHandler(log *slog.Logger, verifier feed.TokenVerifier, svc *notify.Service, replay *feed.Replay) *apiHandler {
	if log == nil {
		log = slog.Default()
	}
	return &apiHandler{log: log, verifier: verifier, svc: svc, replay: replay}
}

func (h *apiHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /feed/events", h.handleEvents)

	mux.HandleFunc("GET /notifications", h.handleList)
	mux.HandleFunc("POST /notifications", h.handleCreate)
	mux.HandleFunc("POST /notifications/{id}/toggle", h.handleToggle)
	mux.HandleFunc("POST /notifications/read-all", h.handleReadAll)
	mux.HandleFunc("DELETE /notifications/{id}", h.handleDelete)
	mux.HandleFunc("DELETE /notifications", h.handleDeleteAll)
}

// authenticate resolves the caller from the bearer token; writes 401 on failure.
func (h *apiHandler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := feed.BearerToken(r)
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}

	userID, err := h.verifier.Verify(token, time.Now().UTC())
	if err != nil {
		h.log.Info("api.reject.token", "path", r.URL.Path, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// handleEvents returns buffered envelopes newer than ?since for the caller.
func (h *apiHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "bad since timestamp", http.StatusBadRequest)
			return
		}
		since = t
	}

	envs := h.replay.Since(since, userID)
	if envs == nil {
		envs = []v1.Envelope{}
	}
	writeJSON(w, http.StatusOK, envs)
}

type notificationDTO struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func toDTO(n notify.Notification) notificationDTO {
	return notificationDTO{
		ID:        n.ID,
		UserID:    n.UserID,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func (h *apiHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := h.svc.List(r.Context(), userID, limit)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	out := make([]notificationDTO, 0, len(rows))
	for _, n := range rows {
		out = append(out, toDTO(n))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *apiHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var in struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	n, err := h.svc.Create(r.Context(), userID, in.Message)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(n))
}

func (h *apiHandler) handleToggle(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	n, err := h.svc.ToggleRead(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(n))
}

func (h *apiHandler) handleReadAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	updated, err := h.svc.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *apiHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	deleted, err := h.svc.DeleteAll(r.Context(), userID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *apiHandler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notify.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, notify.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
	default:
		h.log.Error("api.fail", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
