package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// JobParams — параметры приёма товаров.
type JobParams struct {
	Keyword  string `json:"keyword,omitempty"`
	Category string `json:"category,omitempty"`
	MaxItems int    `json:"max_items,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	Status            string         `json:"status"`
	Params            JobParams      `json:"params"`
	TotalCount        int            `json:"total_count"`
	SuccessCount      int            `json:"success_count"`
	FailedCount       int            `json:"failed_count"`
	ManualReviewCount int            `json:"manual_review_count"`
	Progress          float64        `json:"progress"`
	ErrorSummary      map[string]int `json:"error_summary,omitempty"`
	Error             string         `json:"error,omitempty"`
	StartedAt         string         `json:"started_at,omitempty"`
	FinishedAt        string         `json:"finished_at,omitempty"`
	DurationMS        int64          `json:"duration_ms,omitempty"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at"`
}

// IsFinished возвращает true для терминальных статусов job.
func (j JobResponse) IsFinished() bool {
	switch j.Status {
	case "COMPLETED", "FAILED", "CANCELLED":
		return true
	default:
		return false
	}
}

// ItemResponse — item из API.
type ItemResponse struct {
	ID               string         `json:"id"`
	JobID            string         `json:"job_id"`
	SourceID         string         `json:"source_id"`
	State            string         `json:"state"`
	ResumeState      string         `json:"resume_state,omitempty"`
	RetryCount       int            `json:"retry_count"`
	LastErrorKind    string         `json:"last_error_kind,omitempty"`
	LastErrorMessage string         `json:"last_error_message,omitempty"`
	ErrorHistory     map[string]int `json:"error_history,omitempty"`
	ExternalID       string         `json:"external_id,omitempty"`
	AssetURL         string         `json:"asset_url,omitempty"`
	NextAttemptAt    string         `json:"next_attempt_at,omitempty"`
	Source           struct {
		Name  string `json:"name"`
		Price int64  `json:"price"`
	} `json:"source"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// --- Request types ---

// CreateJobRequest — создание job.
type CreateJobRequest struct {
	Type   string    `json:"type,omitempty"`
	Params JobParams `json:"params"`
}

// ListOpts — фильтр и пагинация списков.
type ListOpts struct {
	// Status — статус job или состояние item, в зависимости от списка.
	Status string
	Limit  int
	Offset int
}

func (o ListOpts) values(statusParam string) url.Values {
	params := url.Values{}
	if o.Status != "" {
		params.Set(statusParam, o.Status)
	}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		params.Set("offset", strconv.Itoa(o.Offset))
	}
	return params
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Count int             `json:"count"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для storebridge API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Jobs ---

// CreateJob создаёт job.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*JobResponse, error) {
	var job JobResponse
	err := c.post(ctx, "/api/v1/jobs", req, &job)
	return &job, err
}

// ListJobs возвращает jobs.
func (c *Client) ListJobs(ctx context.Context, opts ListOpts) ([]JobResponse, error) {
	var jobs []JobResponse
	err := c.list(ctx, "/api/v1/jobs", opts.values("status"), &jobs)
	return jobs, err
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(ctx context.Context, id string) (*JobResponse, error) {
	var job JobResponse
	err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(id), &job)
	return &job, err
}

// CancelJob отменяет job.
func (c *Client) CancelJob(ctx context.Context, id string) (*JobResponse, error) {
	var job JobResponse
	err := c.post(ctx, "/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, &job)
	return &job, err
}

// ListJobItems возвращает items job. opts.Status фильтрует по состоянию item.
func (c *Client) ListJobItems(ctx context.Context, jobID string, opts ListOpts) ([]ItemResponse, error) {
	var items []ItemResponse
	err := c.list(ctx, "/api/v1/jobs/"+url.PathEscape(jobID)+"/items", opts.values("state"), &items)
	return items, err
}

// --- Items ---

// GetItem возвращает item по ID.
func (c *Client) GetItem(ctx context.Context, id string) (*ItemResponse, error) {
	var item ItemResponse
	err := c.get(ctx, "/api/v1/items/"+url.PathEscape(id), &item)
	return &item, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
