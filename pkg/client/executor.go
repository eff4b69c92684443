package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/DrSui/code-engine/pkg/executor"
)

// ExecutorClient talks to a remote executor over TCP or a unix socket.
// Addresses of the form unix:///path/to.sock select the socket transport.
type ExecutorClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewExecutorClient creates a client for the given executor address
func NewExecutorClient(addr string) *ExecutorClient {
	if socketPath, ok := strings.CutPrefix(addr, "unix://"); ok {
		return &ExecutorClient{
			// Host part is ignored when dialing a socket
			baseURL: "http://executor",
			httpClient: &http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						var d net.Dialer
						return d.DialContext(ctx, "unix", socketPath)
					},
				},
			},
		}
	}
	return &ExecutorClient{
		baseURL: strings.TrimSuffix(addr, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Run executes a node script on the remote executor
func (c *ExecutorClient) Run(ctx context.Context, req executor.Request) (*executor.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/run", bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("executor returned status %d: %s", resp.StatusCode, string(body))
	}

	var result executor.Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode executor response: %w", err)
	}
	return &result, nil
}
