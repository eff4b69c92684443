package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DrSui/code-engine/pkg/auth"
	"github.com/DrSui/code-engine/pkg/models"
)

// Client manages communication with the engine
type Client struct {
	engineURL  string
	apiKey     string
	httpClient *http.Client
	workerID   string
}

// NewClient creates a new engine client
func NewClient(engineURL string) *Client {
	return &Client{
		engineURL: engineURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetAPIKey attaches an API key to every subsequent request. Required when
// the engine runs with key authentication enabled.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = key
}

// doJSON issues a request against the engine, encoding body (when non-nil)
// as JSON and decoding the response into out (when non-nil). Any status
// outside okStatuses is returned as an error carrying the response body.
func (c *Client) doJSON(method, path string, body, out interface{}, okStatuses ...int) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, c.engineURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(auth.HeaderName, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	accepted := false
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			accepted = true
			break
		}
	}
	if !accepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Register registers the worker with the engine. Both fresh registrations
// (201) and re-registrations (200) succeed.
func (c *Client) Register(reg *models.WorkerRegistration) (*models.Worker, error) {
	var worker models.Worker
	err := c.doJSON(http.MethodPost, "/workers/register", reg, &worker,
		http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("worker registration failed: %w", err)
	}

	c.workerID = worker.ID
	return &worker, nil
}

// SendHeartbeat sends a heartbeat to the engine
func (c *Client) SendHeartbeat() error {
	if c.workerID == "" {
		return fmt.Errorf("worker not registered")
	}
	return c.doJSON(http.MethodPost,
		fmt.Sprintf("/workers/%s/heartbeat", c.workerID), nil, nil, http.StatusOK)
}

// GetNextRun claims the next available run. A nil run with a nil error means
// the queue is empty.
func (c *Client) GetNextRun() (*models.Run, error) {
	if c.workerID == "" {
		return nil, fmt.Errorf("worker not registered")
	}

	var result struct {
		Run *models.Run `json:"run"`
	}
	err := c.doJSON(http.MethodGet,
		"/runs/next?worker_id="+c.workerID, nil, &result, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return result.Run, nil
}

// SendResults sends run results to the engine
func (c *Client) SendResults(result *models.RunResult) error {
	return c.doJSON(http.MethodPost, "/results", result, nil, http.StatusOK)
}

// WaitForReady polls the engine health endpoint until it responds or the
// deadline passes
func (c *Client) WaitForReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.doJSON(http.MethodGet, "/health", nil, nil, http.StatusOK); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("engine at %s not ready after %s", c.engineURL, timeout)
		}
		time.Sleep(time.Second)
	}
}

// GetWorkerID returns the worker ID assigned at registration
func (c *Client) GetWorkerID() string {
	return c.workerID
}
