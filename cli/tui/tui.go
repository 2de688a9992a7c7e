package tui

import (
	"fmt"

	"github.com/TheKidThatCodes/ccbridge/metrics"
)

// ViewStats is the only view renderable through Run. The shell has its
// own entry point, RunRepl.
const ViewStats = "stats"

// Run starts the TUI for a rendered view.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	switch d := data.(type) {
	case metrics.Snapshot:
		return RunStatsTUI(d, nil, 0)
	case *metrics.Snapshot:
		return RunStatsTUI(*d, nil, 0)
	default:
		return fmt.Errorf("invalid data type %T for %s", data, viewType)
	}
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return viewType == ViewStats
}
