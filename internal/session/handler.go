package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/go-chi/chi/v5"

	"github.com/suniash/yolo-playground/internal/artifacts"
	"github.com/suniash/yolo-playground/internal/jobs"
	"github.com/suniash/yolo-playground/internal/overlay"
	"github.com/suniash/yolo-playground/internal/overlay/raster"
	"github.com/suniash/yolo-playground/internal/platform/logger"
	"github.com/suniash/yolo-playground/internal/playback"
)

const maxBodyBytes = 1 << 16

// Handler exposes job and session endpoints using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes mounts every handler on r.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{job_id}", h.GetJob)
	r.Post("/sessions", h.OpenSession)
	r.Get("/sessions", h.ListSessions)
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.CloseSession)
		r.Post("/reload", h.Reload)
		r.Post("/rerun", h.Rerun)
		r.Post("/playback", h.PostPlayback)
		r.Put("/filters", h.SetFilters)
		r.Get("/overlay", h.GetOverlay)
		r.Get("/overlay.png", h.GetOverlayPNG)
		r.Get("/overlay/stream", h.StreamOverlay)
		r.Get("/artifacts/{name}", h.GetArtifact)
	})
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Jobs(r.Context())
	if err != nil {
		h.fail(w, r, "list jobs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetJob handles GET /jobs/{job_id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	js, err := h.svc.Job(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get job failed", err)
		return
	}
	writeJSON(w, http.StatusOK, js)
}

type openRequest struct {
	JobID   string `json:"job_id"`
	ShareID string `json:"share_id"`
}

// OpenSession handles POST /sessions.
// Body: { "job_id": "..." } or { "share_id": "..." }. Each call opens a new
// viewer session and answers 201 with its state.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.log.Debug("invalid open body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var sess *Session
	switch {
	case req.JobID != "" && req.ShareID == "":
		sess = h.svc.Open(req.JobID)
	case req.ShareID != "" && req.JobID == "":
		var err error
		if sess, err = h.svc.OpenShare(req.ShareID); err != nil {
			h.fail(w, r, "open share session failed", err)
			return
		}
	default:
		http.Error(w, "exactly one of job_id and share_id is required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Location", "/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, sess.State())
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.List())
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

// CloseSession handles DELETE /sessions/{session_id}.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(chi.URLParam(r, "session_id")); err != nil {
		h.fail(w, r, "close session failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload handles POST /sessions/{session_id}/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Reload(r.Context()); err != nil {
		h.fail(w, r, "reload failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

// Rerun handles POST /sessions/{session_id}/rerun.
func (h *Handler) Rerun(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Rerun(r.Context()); err != nil {
		h.fail(w, r, "rerun failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.State())
}

// PostPlayback handles POST /sessions/{session_id}/playback.
// Body: { "type": "timeupdate", "time": 12.4 } or { "type": "resize", "width": 640, "height": 360 }.
func (h *Handler) PostPlayback(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var ev playback.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		h.log.Debug("invalid playback body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := sess.Post(ev); err != nil {
		h.fail(w, r, "playback event rejected", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetFilters handles PUT /sessions/{session_id}/filters.
// Body: { "show_players": true, "show_ball": true, "show_trail": false }.
func (h *Handler) SetFilters(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	f := sess.Filters()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&f); err != nil {
		h.log.Debug("invalid filters body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := sess.SetFilters(f); err != nil {
		h.fail(w, r, "set filters failed", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GetOverlay handles GET /sessions/{session_id}/overlay?t=&w=&h=&players=&ball=&trail=.
// Omitted parameters default to the session clock, surface and filters.
func (h *Handler) GetOverlay(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.renderRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// GetOverlayPNG handles GET /sessions/{session_id}/overlay.png with the same
// parameters as GetOverlay.
func (h *Handler) GetOverlayPNG(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.renderRequest(w, r)
	if !ok {
		return
	}
	if sc.Surface.Empty() {
		http.Error(w, "surface size required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Overlay-Frame", strconv.Itoa(sc.Frame))
	w.WriteHeader(http.StatusOK)
	if err := raster.EncodePNG(w, sc); err != nil {
		h.log.Warn("png encode failed", slog.String("error", err.Error()))
	}
}

// StreamOverlay handles GET /sessions/{session_id}/overlay/stream. It sends the
// session state once, then every rendered scene as server-sent events.
func (h *Handler) StreamOverlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	scenes, cancel, err := sess.Subscribe()
	if err != nil {
		h.fail(w, r, "subscribe failed", err)
		return
	}
	defer cancel()
	defer func() { sess.touch(time.Now()) }()

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := sse.Encode(w, sse.Event{Event: "state", Data: sess.State()}); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case sc, open := <-scenes:
			if !open {
				_ = sse.Encode(w, sse.Event{Event: "closed", Data: sess.ID()})
				flusher.Flush()
				return
			}
			if err := sse.Encode(w, sse.Event{Event: "scene", Data: sc}); err != nil {
				h.log.Debug("overlay stream write failed", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		}
	}
}

// GetArtifact handles GET /sessions/{session_id}/artifacts/{name} for the
// metrics and events documents of the installed bundle.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	b, err := sess.Bundle()
	if err != nil {
		h.fail(w, r, "artifact unavailable", err)
		return
	}
	switch chi.URLParam(r, "name") {
	case artifacts.Metrics:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b.Metrics)
	case artifacts.Events:
		writeJSON(w, http.StatusOK, b.Events)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := chi.URLParam(r, "session_id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	sess, err := h.svc.Get(id)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (h *Handler) renderRequest(w http.ResponseWriter, r *http.Request) (overlay.Scene, bool) {
	sess, ok := h.session(w, r)
	if !ok {
		return overlay.Scene{}, false
	}
	st := sess.State()
	t, surface, filters, err := parseRenderQuery(r, st, sess.MaxSurface())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return overlay.Scene{}, false
	}
	sc, err := sess.Render(t, surface, filters)
	if err != nil {
		h.fail(w, r, "render failed", err)
		return overlay.Scene{}, false
	}
	return sc, true
}

// parseRenderQuery resolves render inputs from the query, defaulting to the
// session state. A maxSide above zero bounds each surface side.
func parseRenderQuery(r *http.Request, st State, maxSide int) (float64, overlay.Surface, overlay.Filters, error) {
	q := r.URL.Query()
	t, surface, filters := st.Time, st.Surface, st.Filters

	if s := q.Get("t"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, surface, filters, fmt.Errorf("invalid t %q", s)
		}
		t = v
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"w", &surface.Width}, {"h", &surface.Height}} {
		if s := q.Get(p.name); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 0 {
				return 0, surface, filters, fmt.Errorf("invalid %s %q", p.name, s)
			}
			*p.dst = v
		}
	}
	if maxSide > 0 && (surface.Width > maxSide || surface.Height > maxSide) {
		return 0, surface, filters, fmt.Errorf("%w: %dx%d exceeds %d", ErrSurfaceTooLarge, surface.Width, surface.Height, maxSide)
	}
	for _, p := range []struct {
		name string
		dst  *bool
	}{{"players", &filters.ShowPlayers}, {"ball", &filters.ShowBall}, {"trail", &filters.ShowTrail}} {
		if s := q.Get(p.name); s != "" {
			v, err := strconv.ParseBool(s)
			if err != nil {
				return 0, surface, filters, fmt.Errorf("invalid %s %q", p.name, s)
			}
			*p.dst = v
		}
	}
	return t, surface, filters, nil
}

// fail maps an error to its HTTP status and logs it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var status int
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrSharesDisabled):
		status = http.StatusNotFound
	case errors.Is(err, playback.ErrInvalidEvent), errors.Is(err, ErrSurfaceTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, ErrReadOnly):
		status = http.StatusForbidden
	case errors.Is(err, ErrSessionClosed):
		status = http.StatusGone
	case errors.Is(err, ErrJobNotCompleted), errors.Is(err, ErrNotReady):
		status = http.StatusConflict
	default:
		status = http.StatusBadGateway
	}

	attrs := []any{
		slog.String("request_id", logger.RequestID(r.Context())),
		slog.String("session_id", chi.URLParam(r, "session_id")),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, attrs...)
	} else {
		h.log.Info(msg, attrs...)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
