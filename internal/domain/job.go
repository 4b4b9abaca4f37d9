package domain

import "time"

// GenerationJob is created when the engine accepts a workflow and lives only
// for the duration of the request that submitted it.
type GenerationJob struct {
	ID          string
	ClientID    string
	Seed        uint32
	SubmittedAt time.Time
}

// OutputArtifactRef identifies where the engine persisted a generated image.
type OutputArtifactRef struct {
	Filename   string `json:"filename"`
	Subfolder  string `json:"subfolder"`
	FolderType string `json:"type"`
}

// DefaultFolderType is used when the engine omits the folder type.
const DefaultFolderType = "output"

// Normalized fills defaults the engine is allowed to omit.
func (r OutputArtifactRef) Normalized() OutputArtifactRef {
	if r.FolderType == "" {
		r.FolderType = DefaultFolderType
	}
	return r
}

// PublishedResult is the terminal response returned by the generate endpoints.
type PublishedResult struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"image_url,omitempty"`
	PromptID string `json:"prompt_id,omitempty"`
	Error    string `json:"error,omitempty"`
}
