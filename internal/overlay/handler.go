package overlay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// Handler exposes the overlay endpoints: state snapshot, SSE event
// stream, and the external update escape hatch.
type Handler struct {
	b   *Broadcaster
	log *slog.Logger
}

// NewHandler returns a Handler backed by b.
func NewHandler(b *Broadcaster, log *slog.Logger) *Handler {
	return &Handler{b: b, log: log}
}

// State handles GET /overlay/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.b.GetState()); err != nil {
		h.log.Error("encode overlay state", slog.String("error", err.Error()))
	}
}

// Events handles GET /overlay/events as a Server-Sent-Events stream.
// The first frame is a full-state match_update; a write failure or a
// closed request context detaches the client.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.b.AddClient()
	defer h.b.RemoveClient(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-sub.Events():
			if !open {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Update handles POST /overlay/update: a shallow merge of whatever
// state fields the body carries.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.b.UpdateFull(body); err != nil {
		h.log.Debug("invalid overlay update", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"success":true}`))
}
