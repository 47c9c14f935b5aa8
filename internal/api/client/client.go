package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/tfdgestao/relatorios/internal/models"
	"github.com/tfdgestao/relatorios/internal/schedule"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient reads TFD_API_URL and TFD_API_TOKEN from the environment.
func NewClient() (*Client, error) {
	baseURL := os.Getenv("TFD_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	token := os.Getenv("TFD_API_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TFD_API_TOKEN environment variable is not set")
	}
	return New(baseURL, token), nil
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			// Manual runs generate and mail the report before responding.
			Timeout: 6 * time.Minute,
		},
	}
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

type ListOptions struct {
	Active     *bool
	ReportType string
	Recurrence string
	Search     string
	Page       int
	PageSize   int
}

func (c *Client) ListSchedules(ctx context.Context, opts ListOptions) (*schedule.Page, error) {
	query := url.Values{}
	if opts.Active != nil {
		query.Set("active", strconv.FormatBool(*opts.Active))
	}
	if opts.ReportType != "" {
		query.Set("report_type", opts.ReportType)
	}
	if opts.Recurrence != "" {
		query.Set("recurrence", opts.Recurrence)
	}
	if opts.Search != "" {
		query.Set("search", opts.Search)
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(opts.PageSize))
	}

	var page schedule.Page
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedules", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetSchedule(ctx context.Context, id uint) (*models.ReportSchedule, error) {
	var s models.ReportSchedule
	if err := c.do(ctx, http.MethodGet, schedulePath(id), nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CreateSchedule(ctx context.Context, def *models.ReportSchedule) (*models.ReportSchedule, error) {
	var s models.ReportSchedule
	if err := c.do(ctx, http.MethodPost, "/api/v1/schedules", nil, def, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) UpdateSchedule(ctx context.Context, id uint, u schedule.Update) (*models.ReportSchedule, error) {
	var s models.ReportSchedule
	if err := c.do(ctx, http.MethodPut, schedulePath(id), nil, u, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) DeleteSchedule(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, schedulePath(id), nil, nil, nil)
}

func (c *Client) SetActive(ctx context.Context, id uint, active bool) (*models.ReportSchedule, error) {
	action := "/disable"
	if active {
		action = "/enable"
	}
	var s models.ReportSchedule
	if err := c.do(ctx, http.MethodPut, schedulePath(id)+action, nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) RunSchedule(ctx context.Context, id uint) (*schedule.Outcome, error) {
	var outcome schedule.Outcome
	if err := c.do(ctx, http.MethodPost, schedulePath(id)+"/run", nil, nil, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (c *Client) Sweep(ctx context.Context) ([]schedule.Outcome, error) {
	var resp struct {
		Outcomes []schedule.Outcome `json:"outcomes"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/schedules/sweep", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Outcomes, nil
}

func (c *Client) Armed(ctx context.Context) ([]schedule.ArmedSchedule, error) {
	var armed []schedule.ArmedSchedule
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedules/armed", nil, nil, &armed); err != nil {
		return nil, err
	}
	return armed, nil
}

func (c *Client) ImportSchedules(ctx context.Context, defs []models.ReportSchedule) ([]models.ReportSchedule, error) {
	var created []models.ReportSchedule
	if err := c.do(ctx, http.MethodPost, "/api/v1/schedules/import", nil, defs, &created); err != nil {
		return nil, err
	}
	return created, nil
}

func (c *Client) ExportSchedules(ctx context.Context) ([]models.ReportSchedule, error) {
	var all []models.ReportSchedule
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedules/export", nil, nil, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func schedulePath(id uint) string {
	return "/api/v1/schedules/" + strconv.FormatUint(uint64(id), 10)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, data, v interface{}) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path.Join(u.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Message = errResp.Error
			apiErr.Fields = errResp.Fields
		}
		return apiErr
	}

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
