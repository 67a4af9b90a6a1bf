// Package fabric talks to the Microsoft Fabric REST API: client
// credential tokens against Entra ID, pipeline job submission, and job
// instance polling.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fewa2000/fabric-data-portal/internal/config"
)

const (
	// ScopeFabric grants access to the Fabric REST API.
	ScopeFabric = "https://api.fabric.microsoft.com/.default"
	// ScopeStorage grants access to OneLake through the ADLS DFS endpoint.
	ScopeStorage = "https://storage.azure.com/.default"
)

const loginURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// TokenProvider hands out cached client-credential token sources, one
// per scope. Sources refresh themselves when the token expires.
type TokenProvider struct {
	tenantID     string
	clientID     string
	clientSecret string
	tokenURL     string

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func NewTokenProvider(cfg config.Fabric) (*TokenProvider, error) {
	tenant := strings.TrimSpace(cfg.TenantID)
	if tenant == "" {
		return nil, errors.New("tenant id is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("client secret is required")
	}
	return &TokenProvider{
		tenantID:     tenant,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: cfg.ClientSecret,
		tokenURL:     fmt.Sprintf(loginURLFormat, tenant),
		sources:      make(map[string]oauth2.TokenSource),
	}, nil
}

// TokenSource returns the reusable token source for scope.
func (p *TokenProvider) TokenSource(ctx context.Context, scope string) (oauth2.TokenSource, error) {
	if p == nil {
		return nil, errors.New("token provider not initialized")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("scope is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if src, ok := p.sources[scope]; ok {
		return src, nil
	}
	cc := &clientcredentials.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		TokenURL:     p.tokenURL,
		Scopes:       []string{scope},
	}
	src := cc.TokenSource(ctx)
	p.sources[scope] = src
	return src, nil
}

// HTTPClient returns an *http.Client that attaches a bearer token for
// scope on every request.
func (p *TokenProvider) HTTPClient(ctx context.Context, scope string) (*http.Client, error) {
	src, err := p.TokenSource(ctx, scope)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, src), nil
}
