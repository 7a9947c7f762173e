package reachgenie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

func NewClient(apiKey string, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host:   host,
		apiKey: apiKey,
	}
}

type Client struct {
	host   string
	apiKey string
}

func (c *Client) Enqueue(ctx context.Context, channel string, req EnqueueRequest) (EnqueueResponse, error) {
	var resp EnqueueResponse
	err := c.do(ctx, "POST", "/queue/"+channel, req, &resp)
	return resp, err
}

// StartRun registers a campaign execution and returns its progress view,
// carrying the generated run id.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (RunProgress, error) {
	var resp RunProgress
	err := c.do(ctx, "POST", "/runs", req, &resp)
	return resp, err
}

func (c *Client) RunProgress(ctx context.Context, runID string) (RunProgress, error) {
	var resp RunProgress
	err := c.do(ctx, "GET", "/runs/"+runID, nil, &resp)
	return resp, err
}

// RetryRun resets every terminally failed item of the run back to pending.
func (c *Client) RetryRun(ctx context.Context, runID string) error {
	return c.do(ctx, "POST", "/runs/"+runID+"/retry", nil, nil)
}

func (c *Client) Suppress(ctx context.Context, req SuppressionRequest) error {
	return c.do(ctx, "POST", "/suppressions", req, nil)
}

func (c *Client) PostEvent(ctx context.Context, event Event) error {
	return c.do(ctx, "POST", "/events", event, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path+"?key="+c.apiKey, body)
	if err != nil {
		return err
	}
	req.Header.Add("content-type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("api responded with %d, %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBytes, out)
}
