package graphapi

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// graphScope requests application access to Microsoft Graph.
const graphScope = "https://graph.microsoft.com/.default"

// NewTokenSource builds a client-credential token source for the given
// Azure app registration. The returned source caches the token and
// refreshes it only when expired; the caller owns it for the lifetime of
// the process.
func NewTokenSource(ctx context.Context, tenantID, clientID, clientSecret string) (TokenSource, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("graphapi: azure credentials incomplete (tenant/client/secret required)")
	}

	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{graphScope},
	}

	return oauthTokenSource{src: cfg.TokenSource(ctx)}, nil
}

// oauthTokenSource adapts an oauth2.TokenSource to the client's narrow
// bearer-token interface.
type oauthTokenSource struct {
	src oauth2.TokenSource
}

func (s oauthTokenSource) Token() (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		return "", fmt.Errorf("graphapi: acquiring token: %w", err)
	}

	return tok.AccessToken, nil
}
