// Package auth provides bearer-token authentication for the SecOps API.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Credentials wraps an OAuth2 token source. The source is responsible for
// caching and refreshing tokens; Apply asks it for a token on every request.
type Credentials struct {
	Source oauth2.TokenSource
}

// NewStatic returns credentials for a fixed access token.
func NewStatic(accessToken string) *Credentials {
	return &Credentials{
		Source: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		}),
	}
}

// NewFromSource returns credentials backed by src. The source is wrapped in
// oauth2.ReuseTokenSource so a valid token is not re-fetched per request.
func NewFromSource(src oauth2.TokenSource) *Credentials {
	if src == nil {
		return nil
	}
	return &Credentials{Source: oauth2.ReuseTokenSource(nil, src)}
}

// Apply adds the Authorization header to an HTTP request.
func (c *Credentials) Apply(req *http.Request) error {
	if !c.Valid() {
		return errors.New("no token source configured")
	}
	tok, err := c.Source.Token()
	if err != nil {
		return fmt.Errorf("fetching access token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// Valid reports whether credentials are configured.
func (c *Credentials) Valid() bool {
	return c != nil && c.Source != nil
}
