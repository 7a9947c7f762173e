package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type Config struct {
	URL string
	Key string
}

// NewHTTPEmailSender returns an EmailSender posting to a provider relay
// endpoint. Any non-2xx response is an error; the dispatcher treats it as a
// transient failure and retries with backoff.
func NewHTTPEmailSender(cfg Config) EmailSender {
	return &httpProvider{cfg: cfg, client: http.DefaultClient}
}

func NewHTTPCallDialer(cfg Config) CallDialer {
	return &httpProvider{cfg: cfg, client: http.DefaultClient}
}

type httpProvider struct {
	cfg    Config
	client *http.Client
}

func (p *httpProvider) SendEmail(ctx context.Context, to, subject, html string, meta Metadata) (string, error) {
	return p.post(ctx, struct {
		To       string   `json:"to"`
		Subject  string   `json:"subject"`
		HTML     string   `json:"html"`
		Metadata Metadata `json:"metadata"`
	}{to, subject, html, meta})
}

func (p *httpProvider) InitiateCall(ctx context.Context, to, script string, meta Metadata) (string, error) {
	return p.post(ctx, struct {
		To       string   `json:"to"`
		Script   string   `json:"script"`
		Metadata Metadata `json:"metadata"`
	}{to, script, meta})
}

func (p *httpProvider) post(ctx context.Context, payload any) (string, error) {
	if p.cfg.URL == "" {
		return "", fmt.Errorf("no provider url configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.URL, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Add("content-type", "application/json")
	if p.cfg.Key != "" {
		req.Header.Add("authorization", "Bearer "+p.cfg.Key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider responded with %d, %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}

	var ref struct {
		MessageID string `json:"message_id"`
		CallID    string `json:"call_id"`
	}
	err = json.Unmarshal(respBytes, &ref)
	if err != nil {
		return "", fmt.Errorf("could not parse provider response, %w", err)
	}
	if ref.MessageID != "" {
		return ref.MessageID, nil
	}
	return ref.CallID, nil
}
