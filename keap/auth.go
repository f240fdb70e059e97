package keap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"

	"keap-export/config"
)

// TokenBundle is the persisted OAuth state, stored as a JSON file so a
// token refreshed by one CLI invocation is visible to the next.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is expired or about to be,
// with a one-minute safety margin.
func (t *TokenBundle) Expired() bool {
	return time.Now().Add(time.Minute).After(t.ExpiresAt)
}

// LoadTokenBundle reads the token file. A missing file returns (nil, nil)
// so callers can distinguish "not configured" from a read failure.
func LoadTokenBundle(settings *config.Settings) (*TokenBundle, error) {
	data, err := os.ReadFile(settings.TokenFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tb TokenBundle
	if err := json.Unmarshal(data, &tb); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tb, nil
}

// SaveTokenBundle writes the token file with owner-only permissions.
func SaveTokenBundle(settings *config.Settings, tb *TokenBundle) error {
	data, err := json.Marshal(tb)
	if err != nil {
		return err
	}
	return os.WriteFile(settings.TokenFile, data, 0o600)
}

func oauthConfig(settings *config.Settings) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.infusionsoft.com/app/oauth/authorize",
			TokenURL: "https://api.infusionsoft.com/token",
		},
	}
}

// RefreshTokens exchanges the refresh token for a new bundle and
// persists it.
func RefreshTokens(ctx context.Context, settings *config.Settings, refreshToken string) (*TokenBundle, error) {
	conf := oauthConfig(settings)
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrAuthExpired, err)
	}

	tb := &TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if tb.RefreshToken == "" {
		tb.RefreshToken = refreshToken
	}
	if err := SaveTokenBundle(settings, tb); err != nil {
		return nil, fmt.Errorf("save token bundle: %w", err)
	}
	return tb, nil
}
