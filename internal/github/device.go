package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "github-issue-mirror/internal/errors"
	"github-issue-mirror/internal/model"
)

const defaultOAuthBase = "https://github.com"

// InitiateDeviceFlow requests a device/user code pair for the OAuth device
// authorization grant. The returned payload is shown to the user; polling
// cadence is the caller's responsibility.
func (c *Client) InitiateDeviceFlow(ctx context.Context, clientID, scope string) (*model.DeviceCode, error) {
	form := url.Values{"client_id": {clientID}}
	if scope != "" {
		form.Set("scope", scope)
	}

	var code model.DeviceCode
	if err := c.postForm(ctx, c.oauthBase+"/login/device/code", form, &code); err != nil {
		return nil, err
	}
	if code.DeviceCode == "" {
		return nil, fmt.Errorf("device code response missing device_code")
	}
	return &code, nil
}

// PollDeviceFlow performs a single poll against the token endpoint. While
// authorization is outstanding GitHub answers with one of four error
// codes, surfaced as a DeviceFlowError: authorization_pending and
// slow_down mean keep polling (slower for the latter); expired_token and
// access_denied are terminal.
func (c *Client) PollDeviceFlow(ctx context.Context, clientID, deviceCode string) (*model.DeviceToken, error) {
	form := url.Values{
		"client_id":   {clientID},
		"device_code": {deviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}

	var body struct {
		model.DeviceToken
		ErrorCode        string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := c.postForm(ctx, c.oauthBase+"/login/oauth/access_token", form, &body); err != nil {
		return nil, err
	}

	if body.ErrorCode != "" {
		return nil, &apperrors.DeviceFlowError{
			Code:        body.ErrorCode,
			Description: body.ErrorDescription,
		}
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &body.DeviceToken, nil
}

// postForm sends a form-encoded POST to a github.com login endpoint and
// decodes the JSON response.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}
