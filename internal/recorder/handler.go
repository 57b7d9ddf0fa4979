package recorder

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"framecast/internal/codec"
	"framecast/internal/platform/metrics"
)

// Handler exposes the device and recording HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// DeviceStatus handles GET /device/status.
func (h *Handler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.DeviceStatus(r.Context())
	if err != nil {
		h.writeError(w, "device status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Screenshot handles GET /device/screenshot.
func (h *Handler) Screenshot(w http.ResponseWriter, r *http.Request) {
	img, err := h.svc.Screenshot(r.Context())
	if err != nil {
		h.writeError(w, "screenshot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"imageData": base64.StdEncoding.EncodeToString(img),
	})
}

// Start handles POST /recording/start. Body: { "filename"?, "directory"? }.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename  string `json:"filename"`
		Directory string `json:"directory"`
	}
	if err := decodeOptional(r.Body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.Start(r.Context(), req.Directory, req.Filename); err != nil {
		h.writeError(w, "start recording", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncRecordingsStarted()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "recording started"})
}

// Stop handles POST /recording/stop. Body: { "flags"?: [...] }; invalid
// flags are ignored on this path.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Flags []string `json:"flags"`
	}
	if err := decodeOptional(r.Body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	path, err := h.svc.Stop(r.Context(), req.Flags)
	if err != nil {
		h.writeError(w, "stop recording", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncRecordingsStopped()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "filePath": path})
}

// Discard handles POST /recording/discard.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Discard(r.Context()); err != nil {
		h.writeError(w, "discard recording", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncRecordingsDiscarded()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Transition handles POST /recording/transition.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Player1 == "" || req.Player2 == "" || req.FrameNumber < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "player1, player2 and frameNumber are required",
		})
		return
	}

	stopped, err := h.svc.Transition(r.Context(), req)
	if err != nil {
		h.writeError(w, "transition recording", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncRecordingsStarted()
	}
	var stoppedPath any
	if stopped != "" {
		stoppedPath = stopped
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "videoFilePath": stoppedPath})
}

// Review handles POST /recording/review.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.Review(r.Context())
	if err != nil {
		h.writeError(w, "review recording", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"videoFilePath": path})
}

// Resume handles POST /recording/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player1     string `json:"player1"`
		Player2     string `json:"player2"`
		SessionDate string `json:"sessionDate"`
		FrameNumber int    `json:"frameNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Player1 == "" || req.Player2 == "" || req.FrameNumber < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "player1, player2 and frameNumber are required",
		})
		return
	}

	segment, err := h.svc.Resume(r.Context(), req.Player1, req.Player2, req.SessionDate, req.FrameNumber)
	if err != nil {
		h.writeError(w, "resume recording", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncRecordingsStarted()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "segment": segment})
}

// List handles GET /recordings.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	recordings, err := h.svc.List()
	if err != nil {
		h.writeError(w, "list recordings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": recordings})
}

// Stream handles GET /recordings/stream?path=... with byte-range
// support via http.ServeContent.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	f, info, err := h.svc.Open(r.URL.Query().Get("path"))
	if err != nil {
		h.writeError(w, "stream recording", err)
		return
	}
	defer f.Close()
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// EditFlags handles POST /recordings/flag.
func (h *Handler) EditFlags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RelativePath string   `json:"relativePath"`
		Flags        []string `json:"flags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	meta, err := h.svc.EditFlags(req.RelativePath, req.Flags)
	if err != nil {
		h.writeError(w, "edit flags", err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// writeError maps orchestrator errors onto the HTTP taxonomy: client
// faults 400, path escapes 403, contention 409, everything else 500.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, codec.ErrUnknownFlag),
		errors.Is(err, ErrBadFilename),
		errors.Is(err, ErrNotVideo):
		status = http.StatusBadRequest
	case errors.Is(err, ErrPathEscape):
		status = http.StatusForbidden
	case errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, ErrBusy), errors.Is(err, ErrRecordingActive):
		status = http.StatusConflict
	}

	if status >= 500 {
		h.log.Error(op+" failed", slog.String("error", err.Error()))
	} else {
		h.log.Debug(op+" rejected", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeOptional decodes a JSON body into v, tolerating an empty body.
func decodeOptional(body io.Reader, v any) error {
	err := json.NewDecoder(body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}
