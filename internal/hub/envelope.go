// Package hub implements the fan-out side of the system: a bounded
// in-memory RingBuffer that assigns monotonic ids, and an SseHub that
// broadcasts framed events to connected live clients with per-client
// backpressure-induced dropping.
package hub

// Family is the closed classification tag derived from the basename of the
// file a record came from (spec §3, §4.2).
type Family string

const (
	FamilyProblems    Family = "problems"
	FamilyHistory     Family = "history"
	FamilyMainProcess Family = "main-process"
	FamilyTaskManager Family = "task-manager"
	FamilyOther       Family = "other"
)

// Valid reports whether f is one of the closed enumeration values.
func (f Family) Valid() bool {
	switch f {
	case FamilyProblems, FamilyHistory, FamilyMainProcess, FamilyTaskManager, FamilyOther:
		return true
	default:
		return false
	}
}

// EventName returns the SSE event name for this family: "zabbix.<family>".
func (f Family) EventName() string {
	return "zabbix." + string(f)
}

// Source identifies the file and family a record was emitted from.
type Source struct {
	File   string `json:"file"`
	Family Family `json:"family"`
}

// Envelope is the unit stored in the ring and broadcast to clients (spec §3).
// Record is carried opaquely — the raw NDJSON line — and never interpreted
// by the core.
type Envelope struct {
	ID     uint64 `json:"id"`
	TimeMS int64  `json:"time"`
	Source Source `json:"source"`
	Record string `json:"record"`
}
