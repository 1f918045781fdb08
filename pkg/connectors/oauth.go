package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Credential keys used by OAuth connectors.
const (
	CredAccessToken  = "access_token"
	CredRefreshToken = "refresh_token"
	CredTokenType    = "token_type"
	CredExpiresAt    = "expires_at"
)

// OAuthTokenFromCredentials reads the stored token out of a credential bag.
func OAuthTokenFromCredentials(creds Credentials) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  creds.Get(CredAccessToken),
		RefreshToken: creds.Get(CredRefreshToken),
		TokenType:    creds.Get(CredTokenType),
	}
	if exp := creds.Get(CredExpiresAt); exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			tok.Expiry = t
		}
	}
	return tok
}

// CredentialsWithToken returns a copy of creds carrying tok.
func CredentialsWithToken(creds Credentials, tok *oauth2.Token) Credentials {
	out := creds.Clone()
	out[CredAccessToken] = tok.AccessToken
	if tok.RefreshToken != "" {
		out[CredRefreshToken] = tok.RefreshToken
	}
	if tok.TokenType != "" {
		out[CredTokenType] = tok.TokenType
	}
	if !tok.Expiry.IsZero() {
		out[CredExpiresAt] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	return out
}

// RefreshOAuthToken returns a valid access token for creds, refreshing it when expired.
// When a refresh happened the second return value is the bag the caller must persist.
func RefreshOAuthToken(ctx context.Context, cfg *oauth2.Config, httpClient *http.Client, creds Credentials) (*oauth2.Token, Credentials, error) {
	current := OAuthTokenFromCredentials(creds)
	if current.AccessToken == "" && current.RefreshToken == "" {
		return nil, nil, &ExecutionError{
			Kind:       KindClient,
			StatusCode: http.StatusUnauthorized,
			Message:    "401 Unauthorized: no OAuth token stored, reconnect the integration",
		}
	}

	if current.Valid() || current.RefreshToken == "" {
		return current, nil, nil
	}

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	fresh, err := cfg.TokenSource(ctx, current).Token()
	if err != nil {
		return nil, nil, oauthRefreshError(err)
	}

	if fresh.AccessToken == current.AccessToken {
		return fresh, nil, nil
	}
	return fresh, CredentialsWithToken(creds, fresh), nil
}

// credentialRejectCodes are RFC 6749 token endpoint errors that mean the stored grant is dead.
var credentialRejectCodes = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
}

func oauthRefreshError(err error) *ExecutionError {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return Classify(err)
	}

	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}

	if credentialRejectCodes[retrieveErr.ErrorCode] ||
		(retrieveErr.ErrorCode == "" && (status == http.StatusBadRequest || status == http.StatusUnauthorized)) {
		code := retrieveErr.ErrorCode
		if code == "" {
			code = "invalid_grant"
		}
		return &ExecutionError{
			Kind:       KindClient,
			StatusCode: http.StatusUnauthorized,
			Message:    fmt.Sprintf("401 Unauthorized: OAuth refresh rejected (%s)", code),
			Cause:      err,
		}
	}

	if status == 0 {
		return &ExecutionError{Kind: KindUnknown, Message: "OAuth token refresh failed", Cause: err}
	}
	// Rate limits, timeouts and outages at the token endpoint keep their own status.
	httpErr := NewHTTPError(status, "OAuth token endpoint")
	httpErr.Cause = err
	return httpErr
}
