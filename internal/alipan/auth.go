package alipan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const tokenPath = "/v2/account/token"

// tokenResponse is the auth endpoint's answer to a refresh request.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	Nickname     string `json:"nick_name"`
	DeviceID     string `json:"device_id"`
	DriveID      string `json:"default_drive_id"`
}

// Refresh exchanges the stored refresh token for a new access token and
// updates the session in place. The refresh token rotates on every call,
// so the session callback must persist the new one or the account is
// locked out after the old token expires.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.session.RefreshToken
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]string{
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
	if err != nil {
		return fmt.Errorf("alipan: encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("alipan: creating token request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alipan: token request: %w", err)
	}

	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("alipan: reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("alipan: decoding token response: %w", err)
	}

	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return fmt.Errorf("alipan: token response missing tokens")
	}

	c.mu.Lock()
	c.session.AccessToken = tok.AccessToken
	c.session.RefreshToken = tok.RefreshToken
	c.session.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.session.TokenType = tok.TokenType
	c.session.UserID = tok.UserID
	c.session.UserName = tok.UserName
	c.session.Nickname = tok.Nickname
	c.session.DeviceID = tok.DeviceID

	if tok.DriveID != "" {
		c.session.DriveID = tok.DriveID
	}

	updated := *c.session
	c.mu.Unlock()

	c.logger.Info("session refreshed",
		slog.String("user_id", updated.UserID),
		slog.Time("expires_at", updated.ExpiresAt),
	)

	if c.onSession != nil {
		if err := c.onSession(&updated); err != nil {
			return fmt.Errorf("alipan: persisting refreshed session: %w", err)
		}
	}

	return nil
}
