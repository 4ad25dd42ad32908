package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/md-matcher/internal/ai"
	"github.com/spigell/md-matcher/internal/directory"
	"github.com/spigell/md-matcher/internal/feedback"
	"github.com/spigell/md-matcher/internal/filtering"
	"github.com/spigell/md-matcher/internal/matching"
	"github.com/spigell/md-matcher/internal/telemetry"
)

type fakeStore struct {
	snap       *directory.Snapshot
	err        error
	refreshErr error
	refreshes  int
}

func (f *fakeStore) Snapshot(context.Context) (*directory.Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeStore) Refresh(context.Context) (*directory.Snapshot, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.snap, nil
}

type fixedCompleter struct {
	text string
	err  error
}

func (c fixedCompleter) Complete(_ context.Context, req ai.Request) (*ai.Completion, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &ai.Completion{Text: c.text, Model: "stub", Attempts: 1, Params: req.Params}, nil
}

type memorySink struct {
	mu      sync.Mutex
	records []feedback.Record
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Append(_ context.Context, r feedback.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memorySink) Close(context.Context) error { return nil }

func snapshot() *directory.Snapshot {
	return &directory.Snapshot{
		Directors: []*directory.MedicalDirector{
			{Name: "Director A", Email: "a@example.com", ResidingStates: []string{"CA"}, AcceptingStatus: directory.StatusOpen, NPCapacity: 2},
			{Name: "Director B", Email: "b@example.com", ResidingStates: []string{"TX"}, AcceptingStatus: directory.StatusOpen, NPCapacity: 5},
		},
		Closed: []*directory.MedicalDirector{{Name: "Closed One"}},
		Providers: []*directory.Provider{
			{Name: "Ticket 7 - Nora", Email: "nora@example.com", LicenseType: directory.LicenseNP, State: "CA"},
		},
		Source:   "csv",
		LoadedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

const answer = `{"matches":[{"name":"Director A","email":"a@example.com","match_score":7,"reasoning":"fits"}]}`

type fixture struct {
	store  *fakeStore
	sink   *memorySink
	stats  *telemetry.Provider
	router http.Handler
}

func newFixture(t *testing.T, completer ai.Completer) *fixture {
	t.Helper()
	store := &fakeStore{snap: snapshot()}
	stats := telemetry.NewProvider()
	t.Cleanup(func() { stats.Shutdown(context.Background()) })
	metrics, err := stats.Metrics()
	require.NoError(t, err)

	svc, err := matching.New(matching.Deps{Directory: store, Completer: completer, Metrics: metrics})
	require.NoError(t, err)

	sink := &memorySink{}
	srv := New(Deps{Store: store, Matcher: svc, Steps: svc.Steps(), Sink: sink, Stats: stats})
	return &fixture{store: store, sink: sink, stats: stats, router: srv.Router()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fixedCompleter{text: answer})
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDirectors(t *testing.T) {
	f := newFixture(t, fixedCompleter{text: answer})
	rec := f.do(t, http.MethodGet, "/v1/directors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	directors := body["directors"].([]any)
	require.Len(t, directors, 2)
	first := directors[0].(map[string]any)
	assert.Equal(t, "Director A", first["name"])
	assert.Equal(t, "Has capacity for 2 more NPs, At capacity for RNs", first["capacity_status"])
	assert.EqualValues(t, 1, body["closed"])
	assert.Len(t, body["filters"], 3)
}

func TestDirectorsUnavailable(t *testing.T) {
	f := newFixture(t, fixedCompleter{text: answer})
	f.store.err = &directory.LoadError{Source: "csv", Err: errors.New("missing file")}

	rec := f.do(t, http.MethodGet, "/v1/directors", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProviders(t *testing.T) {
	f := newFixture(t, fixedCompleter{text: answer})

	rec := f.do(t, http.MethodGet, "/v1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["providers"], 1)

	rec = f.do(t, http.MethodGet, "/v1/providers?q=ticket%207", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["providers"], 1)

	rec = f.do(t, http.MethodGet, "/v1/providers?q=nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, fixedCompleter{text: answer})

	rec := f.do(t, http.MethodPost, "/v1/directory/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["directors"])
	assert.Equal(t, 1, f.store.refreshes)

	f.store.refreshErr = &directory.LoadError{Source: "postgres", Err: errors.New("timeout")}
	rec = f.do(t, http.MethodPost, "/v1/directory/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMatchAndFeedback(t *testing.T) {
	f := newFixture(t, fixedCompleter{text: answer})

	rec := f.do(t, http.MethodPost, "/v1/match", map[string]any{"provider": "nora@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp matchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, []string{"Director A"}, resp.Shortlist)
	assert.Equal(t, "stub", resp.Model)
	require.Len(t, resp.Result.Entries, 1)
	assert.Equal(t, "medium", string(resp.Result.Entries[0].Band))

	rec = f.do(t, http.MethodPost, "/v1/feedback", map[string]any{
		"request_id": resp.RequestID,
		"user":       "ops",
		"rating":     4,
		"comments":   "solid",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.sink.records, 1)
	record := f.sink.records[0]
	assert.Equal(t, decode(t, rec)["id"], record.ID)
	assert.Equal(t, resp.RequestID, record.RequestID)
	assert.Equal(t, []string{"a@example.com"}, record.Directors)
	assert.Equal(t, answer, record.RawOutput)

	rec = f.do(t, http.MethodPost, "/v1/feedback", map[string]any{"request_id": resp.RequestID, "rating": 11})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/feedback", map[string]any{"request_id": "unknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["md_matcher.match.count{outcome=matched}"])
}

func TestMatchErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		completer ai.Completer
		body      any
		status    int
		check     func(t *testing.T, body map[string]any)
	}{
		{
			name:      "malformed body",
			completer: fixedCompleter{text: answer},
			body:      map[string]any{"unexpected": true},
			status:    http.StatusBadRequest,
		},
		{
			name:      "missing provider",
			completer: fixedCompleter{text: answer},
			body:      map[string]any{},
			status:    http.StatusBadRequest,
		},
		{
			name:      "unknown provider",
			completer: fixedCompleter{text: answer},
			body:      map[string]any{"provider": "ghost"},
			status:    http.StatusNotFound,
		},
		{
			name:      "no eligible directors",
			completer: fixedCompleter{text: answer},
			body: map[string]any{"provider_data": map[string]any{
				"name": "RN Walk-in", "email": "rn@example.com", "license_type": "RN", "state": "CA",
			}},
			status: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, filtering.RuleCapacity, body["rule"])
			},
		},
		{
			name:      "overloaded",
			completer: fixedCompleter{err: &ai.CompletionError{Model: "m", Attempts: 2, Overloaded: true, Err: ai.ErrOverloaded}},
			body:      map[string]any{"provider": "nora@example.com"},
			status:    http.StatusServiceUnavailable,
		},
		{
			name:      "completion failure",
			completer: fixedCompleter{err: &ai.CompletionError{Model: "m", Attempts: 1, Err: errors.New("bad key")}},
			body:      map[string]any{"provider": "nora@example.com"},
			status:    http.StatusBadGateway,
		},
		{
			name:      "unparseable answer",
			completer: fixedCompleter{text: "sorry"},
			body:      map[string]any{"provider": "nora@example.com"},
			status:    http.StatusBadGateway,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "sorry", body["raw"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.completer)
			rec := f.do(t, http.MethodPost, "/v1/match", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, decode(t, rec))
			}
		})
	}
}

func TestFeedbackWithoutSink(t *testing.T) {
	srv := New(Deps{Store: &fakeStore{snap: snapshot()}})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/feedback", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOutcomeCacheEvictsOldest(t *testing.T) {
	c := newOutcomeCache(2)
	c.put(&matching.Outcome{RequestID: "1"})
	c.put(&matching.Outcome{RequestID: "2"})
	c.put(&matching.Outcome{RequestID: "3"})

	assert.Nil(t, c.get("1"))
	assert.NotNil(t, c.get("2"))
	assert.NotNil(t, c.get("3"))
}
