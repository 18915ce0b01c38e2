package ews

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// outlookScope requests application access to EWS.
const outlookScope = "https://outlook.office365.com/.default"

// NewTokenSource builds a client-credential token source for the given
// Azure app registration. The source caches the token and refreshes it
// only when expired; the caller owns it and may share it across
// invocations within the process.
func NewTokenSource(ctx context.Context, tenantID, clientID, clientSecret string) (oauth2.TokenSource, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("ews: azure credentials incomplete (tenant/client/secret required)")
	}

	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{outlookScope},
	}

	return cfg.TokenSource(ctx), nil
}
