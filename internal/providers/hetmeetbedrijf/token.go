package hetmeetbedrijf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/preston-bernstein/power-usage-forwarder/internal/providers"
)

// tokenSource exchanges API client credentials for a bearer token.
// The endpoint is not a standard OAuth2 token endpoint, so the exchange is
// done by hand and handed to oauth2 for caching and header injection.
// ctx bounds the exchange and is set per call.
type tokenSource struct {
	ctx          context.Context
	tokenURL     string
	clientID     string
	clientSecret string
	client       httpDoer
	ttl          time.Duration
	now          func() time.Time
}

// Token performs the API grant exchange.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(tokenRequest{
		GrantType:    grantTypeAPI,
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
	})
	if err != nil {
		return nil, err
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build token request: %w", Name, err)
	}
	req.Header.Set("Content-Type", tokenContentType)
	req.Header.Set("Accept", "*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: token request: %w", Name, err)
	}
	defer resp.Body.Close()

	if err := providers.CheckResponse(Name, resp); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &providers.DecodeError{Provider: Name, What: "token", Err: err}
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		return nil, fmt.Errorf("%s: %w", Name, providers.ErrNoToken)
	}

	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      s.now().Add(s.ttl),
	}, nil
}
