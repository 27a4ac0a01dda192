package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/basket/taskhive/internal/bus"
	"github.com/basket/taskhive/internal/shared"
)

// handleSubscribe serves POST /api/events/subscribe. The body is a bus filter;
// the response carries the subscription id both adapters consume.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ClientID string     `json:"client_id"`
		Filter   bus.Filter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	r = r.WithContext(shared.WithClientID(r.Context(), req.ClientID))
	subID := s.cfg.Bus.Subscribe(req.ClientID, req.Filter)
	s.log.Info("subscription created",
		"subscription_id", subID,
		"client_id", shared.ClientID(r.Context()),
		"trace_id", shared.TraceID(r.Context()))
	writeJSON(w, http.StatusCreated, map[string]any{"subscription_id": subID})
}

// handleUnsubscribe serves POST /api/events/unsubscribe.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubscriptionID == "" {
		writeError(w, http.StatusBadRequest, "subscription_id required")
		return
	}
	if !s.cfg.Bus.Unsubscribe(req.SubscriptionID) {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unsubscribed": req.SubscriptionID})
}

// handlePoll is the pull delivery adapter: GET /api/events/poll blocks up to
// the configured wait for at least one event, then drains the buffer.
//
// Query parameters: subscription_id (required), max (batch limit),
// last_event_id (resumable read), wait_seconds (caps at the server default).
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	subID := r.URL.Query().Get("subscription_id")
	if subID == "" {
		writeError(w, http.StatusBadRequest, "subscription_id required")
		return
	}
	max, _ := strconv.Atoi(r.URL.Query().Get("max"))
	if max <= 0 || max > maxPollEvents {
		max = maxPollEvents
	}
	wait := s.cfg.PollWait
	if raw := r.URL.Query().Get("wait_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "wait_seconds must be a non-negative integer")
			return
		}
		if reqWait := time.Duration(secs) * time.Second; reqWait < wait {
			wait = reqWait
		}
	}
	lastEventID := r.URL.Query().Get("last_event_id")

	events, err := s.cfg.Bus.WaitDrain(r.Context(), subID, max, lastEventID, wait)
	if err != nil {
		if errors.Is(err, bus.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		// Client went away mid-poll; nothing to write.
		return
	}
	if events == nil {
		events = []bus.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleStream is the push delivery adapter: GET /api/events/stream holds the
// connection open and forwards events as SSE frames, with comment keepalives
// so idle streams survive proxies.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	subID := r.URL.Query().Get("subscription_id")
	if subID == "" {
		writeError(w, http.StatusBadRequest, "subscription_id required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	signal := s.cfg.Bus.Signal(subID)
	if signal == nil {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(s.cfg.Keepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		// Drain whatever is buffered before blocking again.
		events, err := s.cfg.Bus.Drain(subID, maxPollEvents, "")
		if err != nil {
			// Subscription reaped or unsubscribed; end the stream.
			return
		}
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				s.log.Error("sse: marshal event", "event_id", e.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data); err != nil {
				s.log.Debug("sse: write failed, client gone", "subscription_id", subID)
				return
			}
		}
		if len(events) > 0 {
			flusher.Flush()
		}

		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-signal:
			// Loop and drain.
		}
	}
}
