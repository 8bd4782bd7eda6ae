package httpapi

import (
	"net/http"

	"zbxrtx/internal/hub"
)

// handleLiveStream registers the requesting client with the SseHub and
// streams framed events until the client disconnects or the hub is closed
// (spec §6).
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	family := hub.Family(r.URL.Query().Get("family"))
	if family != "" && !family.Valid() {
		http.Error(w, errInvalidFamily.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	sub := s.sseHub.Register(family)
	defer s.sseHub.Unregister(sub.ID)

	if _, err := w.Write(hub.ConnectedComment()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		frame, ok := sub.Next(ctx)
		if !ok {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		flusher.Flush()
	}
}
