package blockbax

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
	"github.com/preston-bernstein/power-usage-forwarder/internal/metrics"
	"github.com/preston-bernstein/power-usage-forwarder/internal/providers"
	"github.com/preston-bernstein/power-usage-forwarder/internal/timeutil"
)

// Name identifies Blockbax in logs and metrics.
const Name = "blockbax"

const (
	defaultAPIURL        = "https://api.blockbax.com/v1"
	defaultHTTPTimeout   = 30 * time.Second
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 2 * time.Second
)

// Config controls how the client reaches Blockbax.
type Config struct {
	// IngestURL is the inbound connector receiving raw payload lists.
	IngestURL string
	// APIURL is the REST API base used for the idempotency check.
	APIURL    string
	APIKey    string
	ProjectID string
	// MetricID optionally narrows the measurement search.
	MetricID      string
	HTTPClient    *http.Client
	RetryAttempts int
	RetryBackoff  time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Client forwards usage payloads to Blockbax and queries existing measurements.
type Client struct {
	ingestURL   string
	apiURL      string
	apiKey      string
	projectID   string
	metricID    string
	http        *http.Client
	maxAttempts int
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	apiURL := strings.TrimSuffix(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	initial := cfg.RetryBackoff
	if initial <= 0 {
		initial = defaultRetryBackoff
	}
	return &Client{
		ingestURL:   strings.TrimSpace(cfg.IngestURL),
		apiURL:      apiURL,
		apiKey:      cfg.APIKey,
		projectID:   cfg.ProjectID,
		metricID:    strings.TrimSpace(cfg.MetricID),
		http:        httpClient,
		maxAttempts: attempts,
		newBackOff: func() backoff.BackOff {
			return providers.NewExponentialBackOff(initial)
		},
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Forward posts the day's raw payload list, one element per meter in meter order.
func (c *Client) Forward(ctx context.Context, usage domain.DailyUsage) error {
	body, err := json.Marshal(usage.Payload())
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	err = c.retry(ctx, "forward", func() error {
		resp, err := c.send(ctx, http.MethodPost, c.ingestURL, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("forward %s: %w", timeutil.FormatDate(usage.Date), err)
	}
	return nil
}

// ListSubjectIDs returns the ids of all subjects in the project.
func (c *Client) ListSubjectIDs(ctx context.Context) ([]string, error) {
	var out subjectsResponse
	err := c.retry(ctx, "list subjects", func() error {
		return c.doJSON(ctx, http.MethodGet, c.projectURL("subjects"), nil, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	ids := make([]string, 0, len(out.Result))
	for _, s := range out.Result {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// HasMeasurements reports whether any subject of the project holds a
// measurement inside the window.
func (c *Client) HasMeasurements(ctx context.Context, window timeutil.Window) (bool, error) {
	subjects, err := c.ListSubjectIDs(ctx)
	if err != nil {
		return false, err
	}
	if len(subjects) == 0 {
		return false, nil
	}

	query := measurementQuery{
		SubjectIDs: subjects,
		FromDate:   timeutil.FormatTimestamp(window.From),
		ToDate:     timeutil.FormatTimestamp(window.To),
		Take:       1,
	}
	if c.metricID != "" {
		query.MetricIDs = []string{c.metricID}
	}
	body, err := json.Marshal(query)
	if err != nil {
		return false, err
	}

	var out measurementsResponse
	err = c.retry(ctx, "search measurements", func() error {
		out = measurementsResponse{}
		return c.doJSON(ctx, http.MethodPost, c.projectURL("measurements"), body, &out)
	})
	if err != nil {
		return false, fmt.Errorf("search measurements: %w", err)
	}
	return len(out.Result) > 0, nil
}

func (c *Client) projectURL(resource string) string {
	return c.apiURL + "/projects/" + url.PathEscape(c.projectID) + "/" + resource
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte, dest any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &providers.DecodeError{Provider: Name, What: "response", Err: err}
	}
	return nil
}

// send issues one request and returns the response for 2xx statuses only.
func (c *Client) send(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := providers.CheckResponse(Name, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		start := time.Now()
		err := fn()
		c.metrics.RecordProviderAttempt(Name, time.Since(start), err)
		if err == nil {
			return nil
		}
		if rl, ok := providers.AsRateLimitError(err); ok {
			c.metrics.RecordRateLimit(Name, rl.RetryAfter)
		}
		if !providers.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxAttempts-1)), ctx)
	return backoff.RetryNotify(wrapped, policy, func(err error, wait time.Duration) {
		logging.Warn(logging.FromContext(ctx, c.logger), "blockbax call retry",
			slog.String(logging.FieldProvider, Name),
			slog.String("op", op),
			slog.Int(logging.FieldAttempt, attempt),
			slog.Int64("wait_ms", wait.Milliseconds()),
			slog.Any("error", err),
		)
	})
}
