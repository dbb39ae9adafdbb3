package hetmeetbedrijf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preston-bernstein/power-usage-forwarder/internal/providers"
	"github.com/preston-bernstein/power-usage-forwarder/internal/testutil"
)

type fakeAPI struct {
	t          *testing.T
	tokenCalls atomic.Int32
	meterCalls atomic.Int32
	tokenBody  string
	metersBody string
	rawStatus  int
	rawBodies  map[string]string

	mu      sync.Mutex
	dates   []string
	current string
}

// revokeTokens makes the API reject every token issued so far.
func (f *fakeAPI) revokeTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ""
}

func (f *fakeAPI) authorized(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	current := f.current
	f.mu.Unlock()
	if current == "" || r.Header.Get("Authorization") != "Bearer "+current {
		http.Error(w, "token expired", http.StatusUnauthorized)
		return false
	}
	return true
}

func (f *fakeAPI) requestedDates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dates...)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/token":
		n := f.tokenCalls.Add(1)
		assert.Equal(f.t, http.MethodPost, r.Method)
		assert.Equal(f.t, tokenContentType, r.Header.Get("Content-Type"))
		assert.Equal(f.t, "*/*", r.Header.Get("Accept"))
		var req tokenRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(f.t, tokenRequest{GrantType: "API", ClientID: "client", ClientSecret: "secret"}, req)
		body := f.tokenBody
		if body == "" {
			token := fmt.Sprintf("tok-%d", n)
			f.mu.Lock()
			f.current = token
			f.mu.Unlock()
			body = `{"token":"` + token + `"}`
		}
		_, _ = io.WriteString(w, body)
	case "/api/Meter/MyMeters":
		f.meterCalls.Add(1)
		if !f.authorized(w, r) {
			return
		}
		assert.Equal(f.t, "text/plain", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, f.metersBody)
	case "/api/Data/GetDataRaw":
		if !f.authorized(w, r) {
			return
		}
		q := r.URL.Query()
		assert.Equal(f.t, "0", q.Get("channel"))
		assert.Equal(f.t, "true", q.Get("rawInterval"))
		assert.Equal(f.t, "0", q.Get("companyId"))
		assert.Equal(f.t, "true", q.Get("inUTC"))
		f.mu.Lock()
		f.dates = append(f.dates, q.Get("date"))
		f.mu.Unlock()
		if f.rawStatus != 0 {
			w.WriteHeader(f.rawStatus)
			_, _ = io.WriteString(w, "upstream broke")
			return
		}
		body, ok := f.rawBodies[q.Get("meterID")]
		if !ok {
			body = `{"meter":"` + q.Get("meterID") + `"}`
		}
		_, _ = io.WriteString(w, body)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	api.t = t
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:      srv.URL + "/api/",
		TokenURL:     srv.URL + "/token",
		ClientID:     "client",
		ClientSecret: "secret",
		HTTPClient:   srv.Client(),
	})
}

func TestFetchUsageListsMetersAndFetchesRawData(t *testing.T) {
	api := &fakeAPI{
		metersBody: `{"meters":[{"id":101},{"id":"abc"},{"id":101},{"name":"no id"},"junk"]}`,
		rawBodies:  map[string]string{"101": `[{"v":1.5}]`},
	}
	client := newTestClient(t, api)

	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	usage, err := client.FetchUsage(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, []string{"101", "abc"}, usage.MeterIDs())
	assert.JSONEq(t, `[{"v":1.5}]`, string(usage.Meters[0].Data))
	assert.JSONEq(t, `{"meter":"abc"}`, string(usage.Meters[1].Data))
	assert.True(t, usage.Date.Equal(day))
	assert.Equal(t, []string{"20240309", "20240309"}, api.requestedDates())
	assert.EqualValues(t, 1, api.tokenCalls.Load())
}

func TestTokenIsReusedAcrossDays(t *testing.T) {
	api := &fakeAPI{metersBody: `{"meters":[{"id":1}]}`}
	client := newTestClient(t, api)

	for _, d := range []int{1, 2, 3} {
		_, err := client.FetchUsage(context.Background(), time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, api.tokenCalls.Load())
	assert.EqualValues(t, 3, api.meterCalls.Load())
}

func TestFetchUsageFailsWithoutToken(t *testing.T) {
	api := &fakeAPI{tokenBody: `{"token":""}`, metersBody: `{"meters":[{"id":1}]}`}
	client := newTestClient(t, api)

	_, err := client.FetchUsage(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrNoToken), err.Error())
	assert.False(t, providers.Retryable(err))
	assert.EqualValues(t, 0, api.meterCalls.Load())
}

func TestListMetersRejectsUnexpectedShapes(t *testing.T) {
	cases := map[string]string{
		"array body":    `[{"id":1}]`,
		"missing list":  `{"items":[]}`,
		"list not list": `{"meters":{"id":1}}`,
		"null list":     `{"meters":null}`,
		"not json":      `<html>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, &fakeAPI{metersBody: body})
			_, err := client.ListMeters(context.Background())
			var decodeErr *providers.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, "meters", decodeErr.What)
		})
	}
}

func TestListMetersEmptyIsNoMeters(t *testing.T) {
	client := newTestClient(t, &fakeAPI{metersBody: `{"meters":[]}`})
	_, err := client.ListMeters(context.Background())
	assert.ErrorIs(t, err, providers.ErrNoMeters)
}

func TestFetchRawSurfacesStatusErrors(t *testing.T) {
	api := &fakeAPI{metersBody: `{"meters":[{"id":7}]}`, rawStatus: http.StatusBadGateway}
	client := newTestClient(t, api)

	_, err := client.FetchUsage(context.Background(), time.Now())
	var statusErr *providers.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "meter 7")
	assert.True(t, providers.Retryable(err))
}

func TestFetchRawRejectsInvalidJSON(t *testing.T) {
	api := &fakeAPI{metersBody: `{"meters":[{"id":7}]}`, rawBodies: map[string]string{"7": "not json"}}
	client := newTestClient(t, api)

	_, err := client.FetchRaw(context.Background(), "7", time.Now())
	var decodeErr *providers.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.False(t, providers.Retryable(err))
}

func TestTokenExchangeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, TokenURL: srv.URL + "/token", HTTPClient: srv.Client()})
	_, err := client.Token(context.Background())
	var statusErr *providers.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.True(t, strings.HasPrefix(err.Error(), "authenticate:"))
}

func TestFetchRawUsesCalendarDateOfDay(t *testing.T) {
	ams, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	api := &fakeAPI{}
	client := newTestClient(t, api)

	// Midnight in Amsterdam is still the previous evening in UTC.
	_, err = client.FetchRaw(context.Background(), "7", time.Date(2024, 3, 10, 0, 0, 0, 0, ams))
	require.NoError(t, err)
	assert.Equal(t, []string{"20240310"}, api.requestedDates())
}

func TestRejectedTokenIsExchangedAgain(t *testing.T) {
	api := &fakeAPI{metersBody: `{"meters":[{"id":1}]}`}
	client := newTestClient(t, api)

	_, err := client.FetchUsage(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	api.revokeTokens()

	_, err = client.FetchUsage(context.Background(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.tokenCalls.Load())

	tok, err := client.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.AccessToken)
	assert.EqualValues(t, 2, api.tokenCalls.Load())
}

func TestRejectedTokenFailsAfterOneNewExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			_, _ = io.WriteString(w, `{"token":"never-accepted"}`)
			return
		}
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	logger, buf := testutil.NewBufferLogger()
	client := NewClient(Config{BaseURL: srv.URL, TokenURL: srv.URL + "/token", HTTPClient: srv.Client(), Logger: logger})

	_, err := client.ListMeters(context.Background())
	var statusErr *providers.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.False(t, providers.Retryable(err))
	assert.Equal(t, 1, strings.Count(buf.String(), "token rejected"))

	client.mu.Lock()
	cached := client.token
	client.mu.Unlock()
	assert.Nil(t, cached)
}

func TestTokenExchangeHonorsContext(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Token(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, api.tokenCalls.Load())
}

func TestMeterIDParsing(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`42`, "42", true},
		{`"m-1"`, "m-1", true},
		{`"  "`, "", false},
		{`null`, "", false},
		{`true`, "", false},
		{``, "", false},
		{`-3`, "-3", true},
	}
	for _, tc := range cases {
		got, ok := meterID(json.RawMessage(tc.raw))
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}
