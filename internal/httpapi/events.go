package httpapi

import (
	"net/http"
	"strings"
)

// handleEvents implements the content-negotiated endpoint (spec §6): SSE
// live stream if Accept contains text/event-stream, JSON snapshot if Accept
// contains application/json, otherwise the HTML demo page.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/events/zabbix/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	switch {
	case wantsEventStream(r):
		s.handleLiveStream(w, r)
	case wantsJSON(r):
		s.handleSnapshot(w, r)
	default:
		s.handleDemoPage(w, r)
	}
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
