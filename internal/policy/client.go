package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lhdbsbz/vetd/internal/config"
)

// JoinInput is the request payload for POST /vet_join.
type JoinInput struct {
	Name string `json:"name"`
	Note string `json:"note"`
}

// MessageInput is the request payload for POST /vet_message.
type MessageInput struct {
	Body   string `json:"body"`
	Author string `json:"author"`
}

// JoinDecision is a validated /vet_join response. Decision is always
// "approve" or "reject".
type JoinDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// MessageDecision is a validated /vet_message response.
type MessageDecision struct {
	IsSpam bool   `json:"is_spam"`
	Reason string `json:"reason"`
}

// Client makes one synchronous call per event to the policy service.
// It never retries: on any failure the pipeline falls back immediately,
// which keeps per-event latency bounded and behavior deterministic.
type Client struct {
	HTTPClient *http.Client
	baseURL    func() string
	timeout    func() time.Duration
}

// NewClient returns a client with a fixed base URL and timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		HTTPClient: http.DefaultClient,
		baseURL:    func() string { return baseURL },
		timeout:    func() time.Duration { return timeout },
	}
}

// NewClientFromConfig returns a client that re-reads the live config on
// each call, so hot-reloads of policy.baseURL / timeoutSeconds take
// effect immediately.
func NewClientFromConfig() *Client {
	return &Client{
		HTTPClient: http.DefaultClient,
		baseURL:    func() string { return config.Get().Policy.BaseURL },
		timeout:    func() time.Duration { return config.Get().Policy.Timeout() },
	}
}

// VetJoin asks the policy service to vet a membership request.
func (c *Client) VetJoin(ctx context.Context, in JoinInput) (JoinDecision, error) {
	var raw struct {
		Decision *string `json:"decision"`
		Reason   *string `json:"reason"`
	}
	if err := c.post(ctx, "/vet_join", in, &raw); err != nil {
		return JoinDecision{}, err
	}
	if raw.Decision == nil {
		return JoinDecision{}, &MalformedResponseError{Detail: "missing field: decision"}
	}
	if *raw.Decision != "approve" && *raw.Decision != "reject" {
		return JoinDecision{}, &MalformedResponseError{Detail: fmt.Sprintf("invalid decision %q", *raw.Decision)}
	}
	dec := JoinDecision{Decision: *raw.Decision}
	if raw.Reason != nil {
		dec.Reason = *raw.Reason
	}
	return dec, nil
}

// VetMessage asks the policy service to classify a message.
func (c *Client) VetMessage(ctx context.Context, in MessageInput) (MessageDecision, error) {
	var raw struct {
		IsSpam *bool   `json:"is_spam"`
		Reason *string `json:"reason"`
	}
	if err := c.post(ctx, "/vet_message", in, &raw); err != nil {
		return MessageDecision{}, err
	}
	if raw.IsSpam == nil {
		return MessageDecision{}, &MalformedResponseError{Detail: "missing or non-boolean field: is_spam"}
	}
	dec := MessageDecision{IsSpam: *raw.IsSpam}
	if raw.Reason != nil {
		dec.Reason = *raw.Reason
	}
	return dec, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.baseURL(), "/") + path
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Err: err}
		}
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &MalformedResponseError{Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Err: err}
		}
		return &TransportError{Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &MalformedResponseError{Detail: "non-JSON body"}
	}
	return nil
}
