package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"yapefwd/internal/eventbus"
	"yapefwd/internal/pipeline"
	"yapefwd/internal/storage"
	"yapefwd/pkg/logx"
)

const (
	maxBodyBytes      = 64 << 10
	defaultEventLimit = 100
)

func (s *Service) routes(token string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/notifications", s.handleNotification)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)

	mux.HandleFunc("GET /v1/settings/packages", s.handlePackagesGet)
	mux.HandleFunc("POST /v1/settings/packages", s.handlePackagesAdd)
	mux.HandleFunc("PUT /v1/settings/packages", s.handlePackagesUpdate)
	mux.HandleFunc("DELETE /v1/settings/packages", s.handlePackagesRemove)

	mux.HandleFunc("GET /v1/settings/destinations", s.handleDestinationsGet)
	mux.HandleFunc("POST /v1/settings/destinations", s.handleDestinationsAdd)
	mux.HandleFunc("DELETE /v1/settings/destinations", s.handleDestinationsRemove)

	mux.HandleFunc("GET /v1/settings/enabled", s.handleFlagGet(s.deps.Store.ServiceEnabled))
	mux.HandleFunc("PUT /v1/settings/enabled", s.handleFlagPut(s.deps.Store.SetServiceEnabled))
	mux.HandleFunc("GET /v1/settings/capture-all", s.handleFlagGet(s.deps.Store.CaptureAll))
	mux.HandleFunc("PUT /v1/settings/capture-all", s.handleFlagPut(s.deps.Store.SetCaptureAll))
	mux.HandleFunc("GET /v1/settings/last-seen", s.handleLastSeen)

	mux.HandleFunc("GET /v1/status", s.handleStatus)

	return withAuth(token, mux)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeBody strictly decodes the request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

func (s *Service) handleNotification(w http.ResponseWriter, r *http.Request) {
	var n pipeline.Notification
	if err := decodeBody(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if n.Key == "" || n.Package == "" {
		writeError(w, http.StatusBadRequest, "key and package are required")
		return
	}

	res, err := s.deps.Pipeline.Process(r.Context(), n)
	if err != nil {
		s.log.Error("pipeline failed", logx.String("key", n.Key), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := parseInt64(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := parseInt64(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}
	f, err := storage.ParseFilter(q.Get("filter"), start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, storage.MaxEvents)
	}

	events, err := s.deps.Store.EventsByFilter(r.Context(), f, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if events == nil {
		events = []storage.CapturedEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleEventStream is an SSE stream: one "refresh" event per stored
// capture, so dashboard-style clients can re-query instead of polling.
func (s *Service) handleEventStream(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.deps.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	ch, cancel := s.deps.Bus.Subscribe(8)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Initial event so the client paints without waiting for a capture.
	fmt.Fprint(w, "event: refresh\ndata: {}\n\n")
	fl.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.TopicEventsUpdated {
				continue
			}
			fmt.Fprint(w, "event: refresh\ndata: {}\n\n")
			fl.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			fl.Flush()
		}
	}
}

func (s *Service) handlePackagesGet(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.deps.Store.WatchedPackages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if pkgs == nil {
		pkgs = []storage.WatchedPackage{}
	}
	writeJSON(w, http.StatusOK, pkgs)
}

func (s *Service) handlePackagesAdd(w http.ResponseWriter, r *http.Request) {
	var pkg storage.WatchedPackage
	if err := decodeBody(r, &pkg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if pkg.PackageName == "" {
		writeError(w, http.StatusBadRequest, "packageName is required")
		return
	}
	if err := s.deps.Store.AddWatchedPackage(r.Context(), pkg); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (s *Service) handlePackagesUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Old     string                 `json:"old"`
		Package storage.WatchedPackage `json:"package"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Old == "" || req.Package.PackageName == "" {
		writeError(w, http.StatusBadRequest, "old and package.packageName are required")
		return
	}
	if err := s.deps.Store.UpdateWatchedPackage(r.Context(), req.Old, req.Package); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	writeJSON(w, http.StatusOK, req.Package)
}

func (s *Service) handlePackagesRemove(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("package")
	if name == "" {
		writeError(w, http.StatusBadRequest, "package query parameter is required")
		return
	}
	if err := s.deps.Store.RemoveWatchedPackage(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDestinationsGet(w http.ResponseWriter, r *http.Request) {
	dests, err := s.deps.Store.Destinations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if dests == nil {
		dests = []storage.Destination{}
	}
	writeJSON(w, http.StatusOK, dests)
}

func (s *Service) handleDestinationsAdd(w http.ResponseWriter, r *http.Request) {
	var d storage.Destination
	if err := decodeBody(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if d.Address == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}
	if err := s.deps.Store.AddDestination(r.Context(), d); err != nil {
		if errors.Is(err, storage.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Service) handleDestinationsRemove(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}
	if err := s.deps.Store.RemoveDestination(r.Context(), addr); err != nil {
		writeError(w, http.StatusInternalServerError, "store failure")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flagBody struct {
	Enabled bool `json:"enabled"`
}

func (s *Service) handleFlagGet(get func(ctx context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := get(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		writeJSON(w, http.StatusOK, flagBody{Enabled: v})
	}
}

func (s *Service) handleFlagPut(set func(ctx context.Context, enabled bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body flagBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		if err := set(r.Context(), body.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, "store failure")
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Service) handleLastSeen(w http.ResponseWriter, r *http.Request) {
	ls, err := s.deps.Store.LastSeen(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Store.CountEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	enabled, err := s.deps.Store.ServiceEnabled(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	captureAll, err := s.deps.Store.CaptureAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"events":         count,
		"enabled":        enabled,
		"capture_all":    captureAll,
	})
}

func parseInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
