package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ralphStatus is the status.json schema written by the agent loop and
// read by the orchestrator, matching spec.md §6's literal shape.
type ralphStatus struct {
	Status    string `json:"status"`
	Iteration uint32 `json:"iteration"`
	Max       uint32 `json:"max"`
	Stories   string `json:"stories,omitempty"`
}

func statusPath(ralphDir string) string { return filepath.Join(ralphDir, "status.json") }
func pauseMarkerPath(ralphDir string) string { return filepath.Join(ralphDir, ".pause") }
func injectPath(ralphDir string) string { return filepath.Join(ralphDir, "inject.md") }

// readStatus reads and parses status.json from ralphDir. A missing file
// is reported as (nil, nil), not an error.
func readStatus(ralphDir string) (*ralphStatus, error) {
	b, err := os.ReadFile(statusPath(ralphDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s ralphStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// mapStatus converts a parsed status.json into a State, matching
// lib.rs::map_status's exact string table. An unrecognized status
// string defaults to Starting, matching the original's fallback.
func mapStatus(s *ralphStatus) State {
	switch s.Status {
	case "running":
		return State{Kind: StateRunning, Iteration: s.Iteration, Stories: s.Stories}
	case "complete":
		return State{Kind: StateCompleted, TotalIterations: s.Iteration}
	case "blocked":
		return State{Kind: StateBlocked, Iteration: s.Iteration, BlockedReason: "Agent signaled blocked"}
	case "max-iterations":
		return State{Kind: StateMaxIterations, TotalIterations: s.Iteration}
	case "started":
		return State{Kind: StateStarting}
	default:
		return State{Kind: StateStarting}
	}
}

func pauseMarkerExists(ralphDir string) bool {
	_, err := os.Stat(pauseMarkerPath(ralphDir))
	return err == nil
}
