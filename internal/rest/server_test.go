package rest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/digest"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/rest"
	"github.com/cherryfeed/cherry/internal/rest/middleware"
	"github.com/cherryfeed/cherry/internal/rest/render"
	restTypes "github.com/cherryfeed/cherry/internal/rest/types"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/cherryfeed/cherry/internal/validation"
	"github.com/cherryfeed/cherry/internal/watchlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDigests struct {
	userID string
	req    digest.Request
	err    error
}

func (f *fakeDigests) Generate(_ context.Context, userID string, req digest.Request) (*types.DigestResult, error) {
	f.userID, f.req = userID, req
	if f.err != nil {
		return nil, f.err
	}
	return &types.DigestResult{Summary: digest.EmptySummary, Highlights: []*types.ScoredItem{}}, nil
}

type fakeWatchlists struct {
	entries []*types.WatchlistEntry
	err     error
}

func (f *fakeWatchlists) List(context.Context, string) ([]*types.WatchlistEntry, error) {
	return f.entries, f.err
}

func (f *fakeWatchlists) Add(_ context.Context, userID string, in watchlist.EntryInput) (*types.WatchlistEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return types.NewWatchlistEntry(userID, in.Kind, in.Value, in.Weight), nil
}

func (f *fakeWatchlists) Update(_ context.Context, userID string, in watchlist.EntryInput) (*types.WatchlistEntry, error) {
	return f.Add(context.Background(), userID, in)
}

func (f *fakeWatchlists) Remove(context.Context, string, enum.WatchKind, string) error {
	return f.err
}

type fakeJobs struct {
	payload queue.Payload
}

func (f *fakeJobs) Enqueue(_ context.Context, payload queue.Payload, _ float64) (string, error) {
	f.payload = payload
	return "job-42", nil
}

type fakeHealth struct {
	db, cache bool
}

func (f fakeHealth) HealthCheck(context.Context) (bool, bool, error) {
	if !f.db {
		return false, f.cache, errors.New("db down")
	}
	return true, f.cache, nil
}

type fixture struct {
	digests    *fakeDigests
	watchlists *fakeWatchlists
	jobs       *fakeJobs
	handler    http.Handler
}

func newFixture(health fakeHealth) *fixture {
	f := &fixture{digests: &fakeDigests{}, watchlists: &fakeWatchlists{}, jobs: &fakeJobs{}}
	f.handler = rest.NewServer(rest.Dependencies{
		Digests:    f.digests,
		Watchlists: f.watchlists,
		Jobs:       f.jobs,
		Health:     health,
	}, &config.APIConfig{RequestsPerSecond: 1000, Burst: 1000}, zap.NewNop())
	return f
}

func (f *fixture) do(method, target, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.Header.Set(middleware.UserHeader, user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestMissingUserIsUnauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeHealth{db: true, cache: true})

	for _, target := range []string{"/v1/digest", "/v1/watchlist"} {
		rec := f.do(http.MethodGet, target, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}

func TestGetDigest(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeHealth{db: true, cache: true})

	rec := f.do(http.MethodGet, "/v1/digest?start=2026-10-13T00:00:00Z&max_items=5&refresh=true&continue=abc", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"digest":{`)
	body := decode[restTypes.DigestResponse](t, rec)
	require.NotNil(t, body.Digest)
	assert.Equal(t, digest.EmptySummary, body.Digest.Summary)

	assert.Equal(t, "u1", f.digests.userID)
	require.NotNil(t, f.digests.req.Start)
	assert.True(t, f.digests.req.Start.Equal(time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, f.digests.req.End)
	assert.Equal(t, 5, f.digests.req.MaxItems)
	assert.True(t, f.digests.req.Refresh)
	assert.Equal(t, "abc", f.digests.req.ContinueToken)
}

func TestGetDigestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		target  string
		err     error
		status  int
		message string
	}{
		{name: "bad start", target: "/v1/digest?start=yesterday", status: http.StatusBadRequest},
		{name: "bad max", target: "/v1/digest?max_items=-1", status: http.StatusBadRequest},
		{name: "max over limit", target: "/v1/digest?max_items=51", status: http.StatusBadRequest},
		{name: "invalid window", target: "/v1/digest", err: digest.ErrInvalidRequest, status: http.StatusBadRequest},
		{name: "rate limited", target: "/v1/digest?refresh=1", err: digest.ErrRateLimited, status: http.StatusTooManyRequests},
		{
			name:    "internal",
			target:  "/v1/digest",
			err:     errors.New("pq: connection refused"),
			status:  http.StatusInternalServerError,
			message: "failed to generate digest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(fakeHealth{db: true, cache: true})
			f.digests.err = tt.err

			rec := f.do(http.MethodGet, tt.target, "u1", "")
			assert.Equal(t, tt.status, rec.Code)

			if tt.message != "" {
				assert.Equal(t, tt.message, decode[render.ErrorBody](t, rec).Error)
			}
		})
	}
}

func TestWatchlistCRUD(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeHealth{db: true, cache: true})

	rec := f.do(http.MethodGet, "/v1/watchlist", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[restTypes.WatchlistResponse](t, rec).Entries)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)

	rec = f.do(http.MethodPost, "/v1/watchlist", "u1", `{"kind":"tag","value":"rust","weight":1.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	entry := decode[types.WatchlistEntry](t, rec)
	assert.Equal(t, "u1", entry.UserID)
	assert.InDelta(t, 1.5, entry.Weight, 1e-9)

	rec = f.do(http.MethodPatch, "/v1/watchlist", "u1", `{"kind":"tag","value":"rust","weight":0.5}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/v1/watchlist?kind=tag&value=rust", "u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWatchlistErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		err    error
		status int
	}{
		{name: "duplicate", method: http.MethodPost, body: `{"kind":"tag","value":"rust"}`, err: types.ErrDuplicateWatchlistEntry, status: http.StatusConflict},
		{name: "missing", method: http.MethodPatch, body: `{"kind":"tag","value":"go","weight":1}`, err: types.ErrWatchlistEntryNotFound, status: http.StatusNotFound},
		{name: "remove missing", method: http.MethodDelete, target: "?kind=tag&value=go", err: types.ErrWatchlistEntryNotFound, status: http.StatusNotFound},
		{name: "malformed body", method: http.MethodPost, body: `{"kind":`, status: http.StatusBadRequest},
		{name: "store down", method: http.MethodGet, err: errors.New("db down"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(fakeHealth{db: true, cache: true})
			f.watchlists.err = tt.err

			rec := f.do(tt.method, "/v1/watchlist"+tt.target, "u1", tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestValidationErrorsListFields(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeHealth{db: true, cache: true})
	f.watchlists.err = validation.NewError("weight", "lte", "weight must be less than or equal to 2")

	rec := f.do(http.MethodPost, "/v1/watchlist", "u1", `{"kind":"tag","value":"rust","weight":3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error  string                  `json:"error"`
		Fields []validation.FieldError `json:"fields"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "weight", body.Fields[0].Field)
	assert.Equal(t, "lte", body.Fields[0].Tag)
}

func TestEnqueueDigestJob(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeHealth{db: true, cache: true})

	rec := f.do(http.MethodPost, "/v1/jobs/digest", "u7", `{"maxItems":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, restTypes.JobResponse{JobID: "job-42", Status: "queued"}, decode[restTypes.JobResponse](t, rec))

	payload, ok := f.jobs.payload.(queue.DigestPayload)
	require.True(t, ok)
	assert.Equal(t, "u7", payload.UserID)
	assert.Equal(t, 3, payload.MaxItems)

	rec = f.do(http.MethodPost, "/v1/jobs/digest", "u7", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(http.MethodPost, "/v1/jobs/digest", "u7", `{"maxItems":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		health fakeHealth
		status int
		want   string
	}{
		{fakeHealth{db: true, cache: true}, http.StatusOK, "ok"},
		{fakeHealth{db: true, cache: false}, http.StatusOK, "degraded"},
		{fakeHealth{db: false, cache: true}, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		rec := newFixture(tt.health).do(http.MethodGet, "/healthz", "", "")
		assert.Equal(t, tt.status, rec.Code)
		assert.Equal(t, tt.want, decode[restTypes.HealthResponse](t, rec).Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(fakeHealth{db: true, cache: true})
	f.do(http.MethodGet, "/healthz", "", "")

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cherry_api_requests_total")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	handler := rest.NewServer(rest.Dependencies{
		Digests:    &fakeDigests{},
		Watchlists: &fakeWatchlists{},
		Jobs:       &fakeJobs{},
		Health:     fakeHealth{db: true, cache: true},
	}, &config.APIConfig{RequestsPerSecond: 0.001, Burst: 1}, zap.NewNop())

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/digest", nil)
		req.Header.Set(middleware.UserHeader, "u1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
