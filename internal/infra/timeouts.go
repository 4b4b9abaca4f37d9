package infra

import "time"

// Per-call deadlines for engine and storage requests.
const (
	UploadTimeout  = 30 * time.Second
	SubmitTimeout  = 10 * time.Second
	HistoryTimeout = 30 * time.Second
	ViewTimeout    = 30 * time.Second
	StatsTimeout   = 5 * time.Second
	PublishTimeout = 30 * time.Second

	// ResponseSlack covers local work: decoding, re-encoding and writing JSON.
	ResponseSlack = 10 * time.Second
)

// PublishBudget bounds everything a generate request does after polling ends.
const PublishBudget = ViewTimeout + PublishTimeout + ResponseSlack

// GenerateBudget is the longest a generate request can run beyond the
// polling budget: staging, submission, one history call started just before
// the budget runs out, then retrieval and publication.
const GenerateBudget = UploadTimeout + SubmitTimeout + HistoryTimeout + PublishBudget
