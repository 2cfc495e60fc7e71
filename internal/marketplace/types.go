// Package marketplace implements C3: a stateless HTTP client over the
// external task marketplace's REST surface (spec §4.3).
package marketplace

import "time"

// EvidenceKind is the closed set of evidence shapes a submission may carry,
// keyed by kind in the evidence mapping required by spec §4.3/§6.
type EvidenceKind string

const (
	EvidenceJSONResponse   EvidenceKind = "json_response"
	EvidenceTextResponse   EvidenceKind = "text_response"
	EvidenceURLReference   EvidenceKind = "url_reference"
	EvidenceFileArtifact   EvidenceKind = "file_artifact"
	EvidenceCodeOutput     EvidenceKind = "code_output"
	EvidenceStructuredData EvidenceKind = "structured_data"
	EvidenceTextReport     EvidenceKind = "text_report"
	EvidenceScreenshot     EvidenceKind = "screenshot"
	EvidenceAPIResponse    EvidenceKind = "api_response"
)

// KnownEvidenceKinds enumerates the closed set validated locally before a
// create_task or submit call leaves the process.
var KnownEvidenceKinds = map[EvidenceKind]bool{
	EvidenceJSONResponse:   true,
	EvidenceTextResponse:   true,
	EvidenceURLReference:   true,
	EvidenceFileArtifact:   true,
	EvidenceCodeOutput:     true,
	EvidenceStructuredData: true,
	EvidenceTextReport:     true,
	EvidenceScreenshot:     true,
	EvidenceAPIResponse:    true,
}

// Task is one marketplace bounty.
type Task struct {
	TaskID           string         `json:"task_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Category         string         `json:"category"`
	Bounty           int64          `json:"bounty"`
	PublisherAddress string         `json:"publisher_address"`
	EvidenceRequired []EvidenceKind `json:"evidence_required"`
	Deadline         time.Time      `json:"deadline"`
	CreatedAt        time.Time      `json:"created_at"`
	Status           string         `json:"status"`
}

// Application is one seller's intent to fulfill a task.
type Application struct {
	ApplicationID    string    `json:"application_id"`
	TaskID           string    `json:"task_id"`
	ApplicantAddress string    `json:"applicant_address"`
	Message          string    `json:"message"`
	CreatedAt        time.Time `json:"created_at"`
}

// Submission is the executor's delivered artifact, keyed evidence by kind.
type Submission struct {
	SubmissionID    string                 `json:"submission_id"`
	TaskID          string                 `json:"task_id"`
	ExecutorAddress string                 `json:"executor_address"`
	Evidence        map[EvidenceKind]any   `json:"evidence"`
	CreatedAt       time.Time              `json:"created_at"`
}

// BrowseFilter narrows a browse() call.
type BrowseFilter struct {
	Category  string
	Keyword   string
	MinBounty int64
	Limit     int
}

// CreateTaskFields are the fields a publisher supplies to create_task.
type CreateTaskFields struct {
	Title            string
	Description      string
	Category         string
	Bounty           int64
	EvidenceRequired []EvidenceKind
	Deadline         time.Time
}
