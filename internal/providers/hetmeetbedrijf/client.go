package hetmeetbedrijf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
	"github.com/preston-bernstein/power-usage-forwarder/internal/providers"
	"github.com/preston-bernstein/power-usage-forwarder/internal/timeutil"
)

// Config controls how the client reaches the metering API.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// TokenTTL bounds how long an issued token is reused.
	TokenTTL time.Duration
	Logger   *slog.Logger
}

// Client lists meters and downloads their raw interval data.
type Client struct {
	baseURL string
	api     httpDoer
	src     tokenSource
	logger  *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient constructs a client. The token exchange is deferred until the
// first API call and the token is reused until it expires or is rejected.
func NewClient(cfg Config) *Client {
	base := resolveHTTPClient(cfg.HTTPClient)
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	src := tokenSource{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       base,
		ttl:          ttl,
		now:          time.Now,
	}
	return &Client{
		baseURL: normalizeBaseURL(cfg.BaseURL),
		api:     base,
		src:     src,
		logger:  cfg.Logger,
	}
}

// Token returns the current bearer token, exchanging credentials with ctx when
// none is cached or the cached one has expired.
func (c *Client) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := c.src
	src.ctx = ctx
	tok, err := oauth2.ReuseTokenSource(c.token, &src).Token()
	if err != nil {
		return nil, err
	}
	c.token = tok
	return tok, nil
}

// invalidate drops tok from the cache unless it was already replaced.
func (c *Client) invalidate(tok *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == tok {
		c.token = nil
	}
}

// FetchUsage lists the account's meters and downloads each meter's raw data for day.
// The first failing meter fails the whole day.
func (c *Client) FetchUsage(ctx context.Context, day time.Time) (domain.DailyUsage, error) {
	ids, err := c.ListMeters(ctx)
	if err != nil {
		return domain.DailyUsage{}, err
	}

	usage := domain.DailyUsage{Date: day, Meters: make([]domain.MeterData, 0, len(ids))}
	for _, id := range ids {
		data, err := c.FetchRaw(ctx, id, day)
		if err != nil {
			return domain.DailyUsage{}, fmt.Errorf("meter %s: %w", id, err)
		}
		usage.Meters = append(usage.Meters, domain.MeterData{MeterID: id, Data: data})
	}

	logging.Debug(logging.FromContext(ctx, c.logger), "fetched usage",
		slog.String(logging.FieldProvider, Name),
		slog.String(logging.FieldDate, timeutil.FormatDate(day)),
		slog.Int(logging.FieldCount, len(usage.Meters)),
		slog.Int(logging.FieldBytes, usage.Size()),
	)
	return usage, nil
}

// ListMeters returns the ids of all meters visible to the credentials, deduplicated in order.
func (c *Client) ListMeters(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, c.baseURL+metersPath, nil)
	if err != nil {
		return nil, fmt.Errorf("list meters: %w", err)
	}
	ids, err := parseMeterIDs(body)
	if err != nil {
		return nil, &providers.DecodeError{Provider: Name, What: "meters", Err: err}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", Name, providers.ErrNoMeters)
	}
	return ids, nil
}

// FetchRaw downloads the raw interval data of one meter for day, as returned.
func (c *Client) FetchRaw(ctx context.Context, meterID string, day time.Time) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("meterID", meterID)
	q.Set("channel", rawChannel)
	q.Set("date", timeutil.FormatCompact(day))
	q.Set("rawInterval", "true")
	q.Set("companyId", rawCompanyID)
	q.Set("inUTC", "true")

	body, err := c.get(ctx, c.baseURL+rawDataPath, q)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &providers.DecodeError{Provider: Name, What: "raw data", Err: errors.New("body is not valid JSON")}
	}
	return json.RawMessage(body), nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	body, rejected, err := c.do(ctx, endpoint, query)
	if rejected {
		logging.Warn(logging.FromContext(ctx, c.logger), "token rejected, exchanging credentials again",
			slog.String(logging.FieldProvider, Name),
		)
		body, _, err = c.do(ctx, endpoint, query)
	}
	return body, err
}

// do performs one authorized GET. rejected reports a 401 from the API itself,
// after which the token that was sent is no longer cached.
func (c *Client) do(ctx context.Context, endpoint string, query url.Values) (body []byte, rejected bool, err error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Accept", "text/plain")
	tok.SetAuthHeader(req)

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if err := providers.CheckResponse(Name, resp); err != nil {
		var statusErr *providers.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			c.invalidate(tok)
			return nil, true, err
		}
		return nil, false, err
	}
	body, err = io.ReadAll(resp.Body)
	return body, false, err
}
