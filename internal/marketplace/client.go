package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/karmacadabra/agent/internal/kerrors"
)

// Client is a stateless HTTP client over the marketplace's REST surface
// (spec §4.3), authenticated by a single X-Agent-Wallet header.
type Client struct {
	baseURL    string
	wallet     string
	httpClient *http.Client
	spacing    *rate.Limiter
	minBounty  int64
	log        *zap.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	WalletAddress  string
	RequestTimeout time.Duration
	CallSpacing    time.Duration
	MinBounty      int64
}

// New constructs a Client. httpClient should already carry cfg.RequestTimeout
// (see internal/httpclient); logger may be zap.NewNop() in tests.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	spacing := cfg.CallSpacing
	if spacing <= 0 {
		spacing = 500 * time.Millisecond
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		wallet:     cfg.WalletAddress,
		httpClient: httpClient,
		spacing:    rate.NewLimiter(rate.Every(spacing), 1),
		minBounty:  cfg.MinBounty,
		log:        logger,
	}
}

// Browse lists open tasks matching filter. Idempotent.
func (c *Client) Browse(ctx context.Context, filter BrowseFilter) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.call(ctx, "browse", http.MethodGet, "/tasks", browseQuery(filter), nil, &out)
	return out.Tasks, err
}

// CreateTask publishes a bounty. Not idempotent; rejects malformed payloads
// client-side before the request is issued.
func (c *Client) CreateTask(ctx context.Context, fields CreateTaskFields) (string, error) {
	if len(fields.EvidenceRequired) == 0 {
		return "", MissingEvidenceRequired()
	}
	for _, kind := range fields.EvidenceRequired {
		if !KnownEvidenceKinds[kind] {
			return "", MalformedEvidenceShape(string(kind))
		}
	}
	if fields.Bounty < c.minBounty {
		return "", BelowMinimumBounty(fields.Bounty, c.minBounty)
	}
	body := map[string]any{
		"title":             fields.Title,
		"description":       fields.Description,
		"category":          fields.Category,
		"bounty":            fields.Bounty,
		"evidence_required": fields.EvidenceRequired,
		"deadline":          fields.Deadline,
	}
	var out struct {
		TaskID string `json:"task_id"`
	}
	err := c.call(ctx, "create_task", http.MethodPost, "/tasks", nil, body, &out)
	return out.TaskID, err
}

// Apply registers intent to fulfill a task. A 409 is consumed silently as
// "already-applied", per spec §4.3.
func (c *Client) Apply(ctx context.Context, taskID, message string) (string, error) {
	body := map[string]string{"message": message}
	var out struct {
		ApplicationID string `json:"application_id"`
	}
	err := c.call(ctx, "apply", http.MethodPost, fmt.Sprintf("/tasks/%s/applications", taskID), nil, body, &out)
	if kerrors.As(err, kerrors.KindConflict) {
		return "", nil
	}
	return out.ApplicationID, err
}

// Assign lets the publisher pick an applicant.
func (c *Client) Assign(ctx context.Context, taskID, applicationID string) error {
	path := fmt.Sprintf("/tasks/%s/applications/%s/assign", taskID, applicationID)
	return c.call(ctx, "assign", http.MethodPost, path, nil, nil, nil)
}

// ListApplications lists every application registered against taskID, for
// the publisher's assignment tie-break (spec §4.4). Idempotent.
func (c *Client) ListApplications(ctx context.Context, taskID string) ([]Application, error) {
	var out struct {
		Applications []Application `json:"applications"`
	}
	path := fmt.Sprintf("/tasks/%s/applications", taskID)
	err := c.call(ctx, "list_applications", http.MethodGet, path, nil, nil, &out)
	return out.Applications, err
}

// FetchStatus reads a single task's current marketplace status string, for
// startup reconciliation (spec §4.7, scenario S6). The bool reports whether
// the task was found at all.
func (c *Client) FetchStatus(ctx context.Context, taskID string) (string, bool, error) {
	var out Task
	if err := c.call(ctx, "fetch_status", http.MethodGet, "/tasks/"+taskID, nil, nil, &out); err != nil {
		return "", false, err
	}
	return out.Status, true, nil
}

// Submit delivers an artifact. evidence must be a non-empty mapping of
// known kinds to non-empty payloads, validated client-side per spec §4.3.
func (c *Client) Submit(ctx context.Context, taskID, executorID string, evidence map[EvidenceKind]any) (string, error) {
	if err := validateEvidence(evidence); err != nil {
		return "", err
	}
	body := map[string]any{"executor_id": executorID, "evidence": evidence}
	var out struct {
		SubmissionID string `json:"submission_id"`
	}
	err := c.call(ctx, "submit", http.MethodPost, fmt.Sprintf("/tasks/%s/submissions", taskID), nil, body, &out)
	return out.SubmissionID, err
}

// Approve releases escrow for a submission.
func (c *Client) Approve(ctx context.Context, taskID, submissionID string) error {
	path := fmt.Sprintf("/tasks/%s/submissions/%s/approve", taskID, submissionID)
	return c.call(ctx, "approve", http.MethodPost, path, nil, nil, nil)
}

func validateEvidence(evidence map[EvidenceKind]any) error {
	if len(evidence) == 0 {
		return MalformedEvidenceShape("<empty>")
	}
	for kind, payload := range evidence {
		if !KnownEvidenceKinds[kind] {
			return MalformedEvidenceShape(string(kind))
		}
		if isEmptyPayload(payload) {
			return MalformedEvidenceShape(string(kind))
		}
	}
	return nil
}

func isEmptyPayload(payload any) bool {
	switch v := payload.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func browseQuery(f BrowseFilter) map[string]string {
	q := map[string]string{}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.Keyword != "" {
		q["q"] = f.Keyword
	}
	if f.MinBounty > 0 {
		q["min_bounty"] = fmt.Sprintf("%d", f.MinBounty)
	}
	if f.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", f.Limit)
	}
	return q
}
