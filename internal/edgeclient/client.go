// Package edgeclient is the mirror CLI's client for the auth edge
// service: device-flow login, installation-token exchange and session
// management over its JSON API.
package edgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github-issue-mirror/internal/model"
)

const sessionHeader = "X-Session-Token"

// APIError is a non-2xx response from the edge service, decoded from its
// {error, message, retryable} body.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("edge service: %s (%s, status %d)", e.Message, e.Code, e.Status)
}

// Client calls the edge service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the edge service at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Device starts a device-flow login and returns the code pair to display.
func (c *Client) Device(ctx context.Context) (*model.DeviceCode, error) {
	var code model.DeviceCode
	if err := c.post(ctx, "/auth/device", "", nil, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// Poll performs one device-flow poll attempt. While authorization is
// pending the edge responds 202 and the returned *APIError carries
// Retryable=true; callers keep polling on those.
func (c *Client) Poll(ctx context.Context, deviceCode string) (*model.LoginResult, error) {
	var result model.LoginResult
	err := c.post(ctx, "/auth/poll", "", map[string]string{"device_code": deviceCode}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// InstallationTokenResult is a scoped installation access token.
type InstallationTokenResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InstallationToken exchanges an installation id for a short-lived
// access token.
func (c *Client) InstallationToken(ctx context.Context, sessionToken string, installationID int64) (*InstallationTokenResult, error) {
	var result InstallationTokenResult
	err := c.post(ctx, "/auth/installation-token", sessionToken,
		map[string]int64{"installation_id": installationID}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Installations re-fetches the session's installation list.
func (c *Client) Installations(ctx context.Context, sessionToken string) ([]model.Installation, error) {
	var result struct {
		Installations []model.Installation `json:"installations"`
	}
	if err := c.post(ctx, "/auth/installations", sessionToken, nil, &result); err != nil {
		return nil, err
	}
	return result.Installations, nil
}

// Logout deletes the session on the edge.
func (c *Client) Logout(ctx context.Context, sessionToken string) error {
	return c.post(ctx, "/auth/logout", sessionToken, nil, nil)
}

func (c *Client) post(ctx context.Context, path, sessionToken string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionToken != "" {
		req.Header.Set(sessionHeader, sessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("edge service unreachable: %w", err)
	}
	defer resp.Body.Close()

	// Every success on this API is a plain 200; a 202 poll response is a
	// pending-authorization error body, not a result.
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Code: "unknown", Message: resp.Status}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode edge response: %w", err)
	}
	return nil
}
