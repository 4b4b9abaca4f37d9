package engine

import (
	"encoding/json"

	"papercut/internal/domain"
)

// StagedImage is the engine's answer to an input upload. Name may differ from
// the requested filename when the engine de-duplicates.
type StagedImage struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type submitRequest struct {
	Prompt   json.Marshaler `json:"prompt"`
	ClientID string         `json:"client_id"`
}

// Submission is the engine's acknowledgement of a queued workflow.
type Submission struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// History maps prompt ids to their execution record.
type History map[string]HistoryEntry

// HistoryEntry is the execution record for one prompt.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  *ExecutionStatus      `json:"status,omitempty"`
}

// NodeOutput lists what a node produced.
type NodeOutput struct {
	Images []domain.OutputArtifactRef `json:"images"`
}

// ExecutionStatus mirrors the engine's status block.
type ExecutionStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// Failed reports whether the engine finished the prompt with an error.
func (s *ExecutionStatus) Failed() bool {
	return s != nil && s.StatusStr == "error"
}

// FirstImage returns the first image produced by node, if any. Additional
// images are ignored.
func (e HistoryEntry) FirstImage(node string) (domain.OutputArtifactRef, bool) {
	out, ok := e.Outputs[node]
	if !ok || len(out.Images) == 0 {
		return domain.OutputArtifactRef{}, false
	}
	return out.Images[0].Normalized(), true
}

// SystemStats is the subset of /system_stats the relay reports.
type SystemStats struct {
	System  json.RawMessage   `json:"system"`
	Devices []json.RawMessage `json:"devices"`
}
