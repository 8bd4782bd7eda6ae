package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"zbxrtx/internal/hub"
)

const (
	defaultSnapshotLimit = 100
	minSnapshotLimit     = 1
	maxSnapshotLimit     = 10000
)

// snapshotResponse is the JSON body shape pinned in spec §6.
type snapshotResponse struct {
	LatestID uint64         `json:"latestId"`
	Items    []hub.Envelope `json:"items"`
}

// handleSnapshot serves the JSON recent-history snapshot (spec §6).
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	opts, err := parseSnapshotQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	items := s.ring.Query(opts)
	if items == nil {
		items = []hub.Envelope{}
	}
	resp := snapshotResponse{
		LatestID: s.ring.LatestID(),
		Items:    items,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func parseSnapshotQuery(r *http.Request) (hub.QueryOptions, error) {
	q := r.URL.Query()
	opts := hub.QueryOptions{Limit: defaultSnapshotLimit}

	if v := q.Get("family"); v != "" {
		family := hub.Family(v)
		if !family.Valid() {
			return hub.QueryOptions{}, errInvalidFamily
		}
		opts.Family = family
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return hub.QueryOptions{}, errInvalidLimit
		}
		if n < minSnapshotLimit {
			n = minSnapshotLimit
		}
		if n > maxSnapshotLimit {
			n = maxSnapshotLimit
		}
		opts.Limit = n
	}

	if v := q.Get("sinceId"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return hub.QueryOptions{}, errInvalidSinceID
		}
		opts.SinceID = n
	}

	return opts, nil
}
