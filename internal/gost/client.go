// Package gost is an HTTP client for the proxy agents' management API. It
// delivers pause/resume commands for named forwarding services to a node's
// local or remote service surface.
package gost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"relaymeter/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client issues service lifecycle commands to node management endpoints.
type Client struct {
	httpClient *http.Client
}

// New returns a Client with the given command timeout (a default when <= 0).
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

type commandRequest struct {
	Service string `json:"service"`
}

// PauseService pauses a forwarding service on the node's ingress surface.
func (c *Client) PauseService(ctx context.Context, addr, service, secret string) error {
	return c.post(ctx, addr, secret, "/api/service/"+url.PathEscape(service)+"/pause", service)
}

// ResumeService resumes a previously paused forwarding service.
func (c *Client) ResumeService(ctx context.Context, addr, service, secret string) error {
	return c.post(ctx, addr, secret, "/api/service/"+url.PathEscape(service)+"/resume", service)
}

// PauseRemoteService pauses the egress-side peer of a relay-pair service.
// Egress nodes manage relayed services under a separate surface than the
// ingress listener, hence the distinct call.
func (c *Client) PauseRemoteService(ctx context.Context, addr, service, secret string) error {
	return c.post(ctx, addr, secret, "/api/remote/service/"+url.PathEscape(service)+"/pause", service)
}

// ResumeRemoteService resumes the egress-side peer of a relay-pair service.
func (c *Client) ResumeRemoteService(ctx context.Context, addr, service, secret string) error {
	return c.post(ctx, addr, secret, "/api/remote/service/"+url.PathEscape(service)+"/resume", service)
}

func (c *Client) post(ctx context.Context, addr, secret, path, service string) error {
	body, err := json.Marshal(commandRequest{Service: service})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Node-Secret", secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrNodeUnreachable, addr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: status %d", addr, resp.StatusCode)
	}
	return nil
}
