package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/realtime"
)

// Stream serves the SSE event feed. The subscription is released on
// every exit path, including client disconnect.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fault.New("STREAMING_UNSUPPORTED", http.StatusInternalServerError, "response writer cannot stream"))
		return
	}

	identity := realtime.Identity{
		UserID:       requester.UserID,
		Roles:        requester.Roles,
		MediatorCode: requester.User.MediatorCode,
		ParentCode:   requester.User.ParentCode,
		BrandCode:    requester.User.BrandCode,
	}
	if requester.User.ConnectedAgencies != "" {
		for _, code := range strings.Split(requester.User.ConnectedAgencies, ",") {
			if code = strings.TrimSpace(code); code != "" {
				identity.AgencyCodes = append(identity.AgencyCodes, code)
			}
		}
	}

	sub, err := s.hub.Subscribe(identity)
	if err != nil {
		s.respondError(w, r, fault.New("HUB_FULL", http.StatusServiceUnavailable, "too many concurrent streams"))
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	done := r.Context().Done()
	for {
		evt, ok := sub.Next(done)
		if !ok {
			return
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
		flusher.Flush()
	}
}

type pushRequest struct {
	App      string          `json:"app"`
	Endpoint string          `json:"endpoint"`
	Keys     json.RawMessage `json:"keys"`
}

// RegisterPush upserts the caller's webpush subscription for one app.
func (s *Server) RegisterPush(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req pushRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Endpoint == "" {
		s.respondError(w, r, fault.New("INVALID_PAYLOAD", http.StatusBadRequest, "push endpoint required"))
		return
	}
	if req.App == "" {
		req.App = "web"
	}

	var existing models.PushSubscription
	err = s.db.Where("user_id = ? AND app = ?", requester.UserID, req.App).First(&existing).Error
	if err == nil {
		err = s.db.Model(&models.PushSubscription{}).Where("id = ?", existing.ID).
			Updates(map[string]any{"endpoint": req.Endpoint, "keys": req.Keys}).Error
	} else {
		existing = models.PushSubscription{
			ID:       uuid.New(),
			UserID:   requester.UserID,
			App:      req.App,
			Endpoint: req.Endpoint,
			Keys:     req.Keys,
		}
		err = s.db.Create(&existing).Error
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"subscription": existing})
}
