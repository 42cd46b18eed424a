package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/lucasew/edgecache/internal/notify"
	"github.com/lucasew/edgecache/internal/partition"
	"github.com/lucasew/edgecache/internal/repository"
	"github.com/lucasew/edgecache/internal/syncqueue"
)

// DefaultPrefix is where the admin API is mounted. Requests under it are
// never intercepted by the cache.
const DefaultPrefix = "/_edgecache"

const maxBodySize = 1 << 20

// AdminHandler serves the admin API: sync triggers, the pending-write queue,
// push notifications, client windows and cache inspection.
type AdminHandler struct {
	Prefix     string
	Repo       repository.Repository
	Partitions partition.Set
	Queue      *syncqueue.Queue
	Dispatcher *notify.Dispatcher
	Hub        *notify.Hub
	// Metrics serves /metrics when set.
	Metrics http.Handler

	mux *http.ServeMux
}

// PartitionStatus is one partition in the /partitions listing.
type PartitionStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// PushResult is the answer to /push.
type PushResult struct {
	Notification notify.Notification `json:"notification"`
	Windows      int                 `json:"windows"`
}

// EnqueueResult is the answer to POST /queue/{tag}.
type EnqueueResult struct {
	ID string `json:"id"`
}

// NewAdminHandler builds the admin mux. An empty prefix uses DefaultPrefix.
func NewAdminHandler(h *AdminHandler) *AdminHandler {
	if h.Prefix == "" {
		h.Prefix = DefaultPrefix
	}
	h.Prefix = strings.TrimSuffix(h.Prefix, "/")
	p := h.Prefix

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+p+"/healthz", h.healthz)
	mux.HandleFunc("GET "+p+"/partitions", h.listPartitions)
	mux.HandleFunc("POST "+p+"/sync/{tag}", h.sync)
	mux.HandleFunc("GET "+p+"/queue/{tag}", h.listQueue)
	mux.HandleFunc("POST "+p+"/queue/{tag}", h.enqueue)
	mux.HandleFunc("POST "+p+"/push", h.push)
	mux.HandleFunc("POST "+p+"/notifications/click", h.click)
	mux.HandleFunc("GET "+p+"/clients", h.clients)
	if h.Metrics != nil {
		mux.Handle("GET "+p+"/metrics", h.Metrics)
	}
	h.mux = mux
	return h
}

// Owns reports whether path belongs to the admin API.
func (h *AdminHandler) Owns(path string) bool {
	return path == h.Prefix || strings.HasPrefix(path, h.Prefix+"/")
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Partitions.Version})
}

func (h *AdminHandler) listPartitions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Repo.Partitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	current := make(map[string]bool)
	for _, name := range h.Partitions.Names() {
		current[name] = true
	}
	out := make([]PartitionStatus, len(infos))
	for i, info := range infos {
		out[i] = PartitionStatus{Name: info.Name, Entries: info.Entries, Current: current[info.Name]}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) sync(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	report, err := h.Queue.Replay(r.Context(), tag)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) listQueue(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Queue.List(r.Context(), r.PathValue("tag"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *AdminHandler) enqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	rec, err := h.Queue.Enqueue(r.Context(), r.PathValue("tag"), body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, EnqueueResult{ID: rec.ID})
}

func (h *AdminHandler) push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	n, shown, err := h.Dispatcher.Push(r.Context(), body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, PushResult{Notification: n, Windows: shown})
}

func (h *AdminHandler) click(w http.ResponseWriter, r *http.Request) {
	var c notify.Click
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.Dispatcher.Click(r.Context(), c)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// clients upgrades client windows to the notification channel and lists
// them for plain requests.
func (h *AdminHandler) clients(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.Hub.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.Hub.Clients())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, syncqueue.ErrUnknownTag):
		return http.StatusNotFound
	case errors.Is(err, syncqueue.ErrInvalidPayload), errors.Is(err, notify.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, notify.ErrNoClients):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write admin response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		slog.Error("Admin request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
