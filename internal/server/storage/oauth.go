package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"golang.org/x/oauth2"
)

// defaultTokenLifetime applies when a provider omits expires_in.
const defaultTokenLifetime = time.Hour

// OAuthRefresher builds a RefreshFunc for a standard refresh_token grant.
func OAuthRefresher(client *http.Client, endpoint oauth2.Endpoint, scopes ...string) RefreshFunc {
	if endpoint.AuthStyle == oauth2.AuthStyleAutoDetect {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return func(ctx context.Context, b *models.StorageBackend) (*models.OAuthToken, error) {
		if b.RefreshToken == "" {
			return nil, fmt.Errorf("%w: backend %s has no refresh token", common.ErrBackendRequestFailed, b.ID)
		}
		cfg := &oauth2.Config{
			ClientID:     b.ClientID,
			ClientSecret: b.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		}
		if client != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
		}

		tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: b.RefreshToken}).Token()
		if err != nil {
			return nil, mapOAuthError(err)
		}

		expiry := tok.Expiry
		if expiry.IsZero() {
			expiry = time.Now().Add(defaultTokenLifetime)
		}
		return &models.OAuthToken{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: expiry}, nil
	}
}

func mapOAuthError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		switch {
		case status == http.StatusTooManyRequests:
			return &StatusError{Status: status, Body: string(re.Body), Err: common.ErrBackendRateLimited}
		case status >= 500:
			return &StatusError{Status: status, Body: string(re.Body), Transient: true, Err: common.ErrBackendRequestFailed}
		default:
			return &StatusError{Status: status, Body: string(re.Body), Err: common.ErrBackendRequestFailed}
		}
	}
	return &StatusError{Body: err.Error(), Transient: true, Err: common.ErrBackendRequestFailed}
}
