package tailer

import (
	"strings"

	"zbxrtx/internal/hub"
)

// deriveFamily classifies a basename per spec §4.2. First match wins:
// problems/history prefixes take priority over the main-process/task-manager
// worker-pool substrings, so "problems-x-main-process-1.ndjson" is reported
// as problems, not main-process.
func deriveFamily(basename string) hub.Family {
	switch {
	case strings.HasPrefix(basename, "problems-"):
		return hub.FamilyProblems
	case strings.HasPrefix(basename, "history-"):
		return hub.FamilyHistory
	case strings.Contains(basename, "main-process"):
		return hub.FamilyMainProcess
	case strings.Contains(basename, "task-manager"):
		return hub.FamilyTaskManager
	default:
		return hub.FamilyOther
	}
}
