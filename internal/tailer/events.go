// Package tailer implements the multi-file NDJSON tail engine: FileTailer
// follows one file through appends, rotations and truncations; DirectoryTailer
// discovers files in a directory, owns one FileTailer per matched file, and
// classifies each emitted record into a family.
package tailer

import "zbxrtx/internal/hub"

// EventKind tags the variant of an Event. The source's per-kind
// event-emitter calls (ready|info|warn|parse_error|data) are collapsed into
// one tagged struct delivered through a single callback, per spec design
// note §9.
type EventKind int

const (
	// EventReady fires once after a file is successfully opened.
	EventReady EventKind = iota
	// EventData fires once per complete line emitted.
	EventData
	// EventInfo fires for rotations, truncations and other non-error
	// lifecycle transitions worth a log line.
	EventInfo
	// EventWarn fires for recoverable I/O errors.
	EventWarn
	// EventParseError is reserved for future record-structural validation;
	// the core never interprets payloads, so nothing emits this today.
	EventParseError
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventData:
		return "data"
	case EventInfo:
		return "info"
	case EventWarn:
		return "warn"
	case EventParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// Event is the unit of notification fanned out by FileTailer and, annotated
// with Family, by DirectoryTailer.
type Event struct {
	Kind EventKind

	// Path is the absolute path of the originating file.
	Path string

	// Size and Inode accompany EventReady.
	Size  int64
	Inode uint64

	// Line is the raw NDJSON line (without trailing newline/CR), set on
	// EventData.
	Line string

	// Family classifies EventData records; set by DirectoryTailer, zero
	// value on events sourced directly from a standalone FileTailer.
	Family hub.Family

	// Msg is a short human-readable description, set on EventInfo/EventWarn.
	Msg string

	// Err is the underlying error, set on EventWarn when applicable.
	Err error
}

// Sink receives Events from a FileTailer or DirectoryTailer. It must not
// block significantly; callers needing buffering should do so themselves.
type Sink func(Event)
