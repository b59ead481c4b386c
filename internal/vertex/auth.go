package vertex

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// authorizer applies credentials to an outgoing predict request.
type authorizer interface {
	apply(req *http.Request) error
	mode() string
}

// newAuthorizer picks the auth mechanism in the documented order:
// API key, static bearer token, then OAuth via service account JSON
// (inline JSON wins over a key file, which wins over ADC).
func newAuthorizer(ctx context.Context, cfg Config) (authorizer, error) {
	switch {
	case cfg.APIKey != "":
		return &apiKeyAuth{key: cfg.APIKey}, nil
	case cfg.BearerToken != "":
		return &bearerAuth{token: cfg.BearerToken}, nil
	case cfg.UseOAuth:
		ts, err := oauthTokenSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &oauthAuth{source: ts}, nil
	}
	return nil, fmt.Errorf("no vertex auth configured")
}

func oauthTokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	if cfg.CredentialsJSON != "" {
		creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.CredentialsJSON), cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parsing inline service account JSON: %w", err)
		}
		return creds.TokenSource, nil
	}
	if cfg.SAPath != "" {
		data, err := os.ReadFile(cfg.SAPath)
		if err != nil {
			return nil, fmt.Errorf("reading service account file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parsing service account file %s: %w", cfg.SAPath, err)
		}
		return creds.TokenSource, nil
	}
	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("finding application default credentials: %w", err)
	}
	return creds.TokenSource, nil
}

type apiKeyAuth struct {
	key string
}

func (a *apiKeyAuth) mode() string { return "apikey" }

func (a *apiKeyAuth) apply(req *http.Request) error {
	q := req.URL.Query()
	q.Set("key", a.key)
	req.URL.RawQuery = q.Encode()
	return nil
}

type bearerAuth struct {
	token string
}

func (a *bearerAuth) mode() string { return "bearer" }

func (a *bearerAuth) apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

type oauthAuth struct {
	source oauth2.TokenSource
}

func (a *oauthAuth) mode() string { return "oauth" }

func (a *oauthAuth) apply(req *http.Request) error {
	token, err := a.source.Token()
	if err != nil {
		return fmt.Errorf("fetching oauth token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}
