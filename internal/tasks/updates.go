package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or HTTP layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	Connect Phase = iota
	Extract
	Reconcile
	Commit
	ExportPlaylist
)

func (p Phase) String() string {
	switch p {
	case Connect:
		return "connect"
	case Extract:
		return "extract"
	case Reconcile:
		return "reconcile"
	case Commit:
		return "commit"
	case ExportPlaylist:
		return "export_playlist"
	default:
		return ""
	}
}

func connectUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Connect,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Connecting to %s...", path),
	}
}

func connectedUpdate(strategy string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Connect,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Connected using %s access", strategy),
		Data:    strategy,
	}
}

func extractingUpdate(what string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Extract,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Extracting %s...", what),
	}
}

func extractedUpdate(what string, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Extract,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Extracted %d %s", count, what),
		Data:    count,
	}
}

func reconcileUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Reconcile,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, name),
	}
}

func commitUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Commit,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Committing %d records...", total),
	}
}

func exportingPlaylistUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Exporting: %s...", step, total, name),
	}
}

func exportCompletedUpdate(step, total int, name string, filesCount int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d files)", step, total, name, filesCount),
	}
}

func exportFailedUpdate(step, total int, name string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, name, err),
	}
}
