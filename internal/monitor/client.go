package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/remediator/internal/report"
)

// ErrRunNotFound is returned when the server does not know the run.
var ErrRunNotFound = errors.New("run not found")

// StatusClient reads run status from a remediator HTTP API.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// NewStatusClient creates a new status client
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Run fetches the state and history of runID.
func (c *StatusClient) Run(ctx context.Context, runID string) (report.Status, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/runs/" + url.PathEscape(runID))
	if err != nil {
		return report.Status{}, fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return report.Status{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return report.Status{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return report.Status{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	default:
		return report.Status{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var status report.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return report.Status{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if status.Run == nil {
		return report.Status{}, errors.New("response has no run")
	}
	return status, nil
}
