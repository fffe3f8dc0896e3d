// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/tomtom215/healthbridge/internal/models"
)

// OAuth2Refresher exchanges a refresh token for a new access token using the
// refresh-token grant. Client credentials are sent with HTTP basic auth.
type OAuth2Refresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewOAuth2Refresher creates a refresher against tokenURL.
func NewOAuth2Refresher(clientID, clientSecret, tokenURL string) *OAuth2Refresher {
	return &OAuth2Refresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient overrides the client used for token requests.
func (r *OAuth2Refresher) WithHTTPClient(c *http.Client) *OAuth2Refresher {
	r.httpClient = c
	return r
}

// Refresh implements Refresher.
func (r *OAuth2Refresher) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	if current.RefreshToken == "" {
		return models.Credential{}, fmt.Errorf("%w: no refresh token", ErrRefreshRejected)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	// An expired token forces the source to hit the token endpoint.
	src := r.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: current.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})

	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return models.Credential{}, fmt.Errorf("%w: %s", ErrRefreshRejected, oauthErrorCode(re))
			}
		}
		return models.Credential{}, fmt.Errorf("token endpoint: %w", err)
	}

	return models.Credential{
		Kind:         models.CredentialOAuth2,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func oauthErrorCode(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	return fmt.Sprintf("status %d", re.Response.StatusCode)
}

// LoginFunc signs in with a username and password and returns the resulting
// session credential. Implementations wrap ErrRefreshRejected when the
// provider refuses the account.
type LoginFunc func(ctx context.Context, username, password string) (models.Credential, error)

// SessionRefresher renews a session by logging in again.
type SessionRefresher struct {
	login LoginFunc
}

// NewSessionRefresher creates a refresher that calls login.
func NewSessionRefresher(login LoginFunc) *SessionRefresher {
	return &SessionRefresher{login: login}
}

// Refresh implements Refresher.
func (r *SessionRefresher) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	if current.Username == "" || current.Secret == "" {
		return models.Credential{}, fmt.Errorf("%w: username and password required", ErrRefreshRejected)
	}
	cred, err := r.login(ctx, current.Username, current.Secret)
	if err != nil {
		return models.Credential{}, err
	}
	cred.Kind = models.CredentialSession
	// Keep the login secrets so the next renewal can log in again.
	cred.Username = current.Username
	cred.Secret = current.Secret
	return cred, nil
}

// APIKeyRefresher backs static API keys. A rejected key cannot be renewed.
type APIKeyRefresher struct{}

// Refresh implements Refresher.
func (APIKeyRefresher) Refresh(context.Context, models.Credential) (models.Credential, error) {
	return models.Credential{}, ErrRefreshUnsupported
}

var (
	_ Refresher = (*OAuth2Refresher)(nil)
	_ Refresher = (*SessionRefresher)(nil)
	_ Refresher = APIKeyRefresher{}
)
