package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"naming_events/pkg/config"
	"naming_events/pkg/data"
	"naming_events/pkg/event"
	"naming_events/pkg/naming"
	"naming_events/pkg/notifier"
	"naming_events/pkg/oracle"
	"naming_events/pkg/security"
	"naming_events/pkg/validator"
)

type fakeHealth struct{ healthy bool }

func (f fakeHealth) IsHealthy(context.Context) bool { return f.healthy }

func newTestServer(t *testing.T, names validator.NameOracle) *httptest.Server {
	return newSecuredServer(t, names, nil)
}

func newSecuredServer(t *testing.T, names validator.NameOracle, tokens *security.TokenManager) *httptest.Server {
	logger := zaptest.NewLogger(t)
	v, err := validator.NewValidator(config.ValidationConfig{
		MinLength:     3,
		MaxLength:     20,
		ReservedNames: []string{"maple"},
	}, names)
	require.NoError(t, err)

	engine := naming.NewEngine(data.NewMemoryRepository(), v, notifier.NewLogNotifier(logger),
		clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		config.EventsConfig{
			SubmissionDuration: time.Hour,
			VotingDuration:     30 * time.Minute,
			TieBreakDuration:   15 * time.Minute,
			Representatives:    5,
		}, logger)

	stats := func() any { return map[string]any{"events": engine.Metrics().GetStats()} }
	srv := httptest.NewServer(NewRouter(engine, fakeHealth{healthy: true}, stats, tokens, logger))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, user, body string) (*http.Response, map[string]any) {
	return doAuth(t, srv, method, path, user, "", body)
}

func doAuth(t *testing.T, srv *httptest.Server, method, path, user, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestEventLifecycle(t *testing.T) {
	srv := newTestServer(t, oracle.NewStatic("willow"))

	resp, body := do(t, srv, http.MethodPost, "/tenants/g1/event", "", `{"location":"frankfurt"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["message"], "announcement channel")

	resp, _ = do(t, srv, http.MethodPut, "/tenants/g1/destination", "", `{"channel_id":"ch","role_id":"role"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, srv, http.MethodPost, "/tenants/g1/event", "", `{"location":"frankfurt","submission_minutes":5}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "submissions", body["phase"])
	assert.Equal(t, "frankfurt", body["location"])

	resp, _ = do(t, srv, http.MethodPost, "/tenants/g1/event", "", `{"location":"frankfurt"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, srv, http.MethodPost, "/tenants/g1/event/submissions", "user1", `{"name":"oak"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, false, body["replaced"])

	resp, body = do(t, srv, http.MethodPost, "/tenants/g1/event/submissions", "user1", `{"name":"elm"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["replaced"])

	resp, body = do(t, srv, http.MethodGet, "/tenants/g1/event/tally", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	candidates, ok := body["candidates"].([]any)
	require.True(t, ok)
	assert.Len(t, candidates, 1)

	resp, _ = do(t, srv, http.MethodPost, "/tenants/g1/event/votes", "user2", `{"option":"1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, srv, http.MethodDelete, "/tenants/g1/event/candidates/elm?reason=spam", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	removed, ok := body["removed"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "elm", removed["name"])

	resp, body = do(t, srv, http.MethodPost, "/tenants/g1/event/extend", "", `{"minutes":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2024-05-01T12:15:00Z", body["end_time"])

	resp, _ = do(t, srv, http.MethodDelete, "/tenants/g1/event", "", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/tenants/g1/event", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["phase"])

	resp, _ = do(t, srv, http.MethodGet, "/tenants/g1/event/tally", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestForceEndOpensVoting(t *testing.T) {
	srv := newTestServer(t, oracle.NewStatic())
	do(t, srv, http.MethodPut, "/tenants/g1/destination", "", `{"channel_id":"ch","role_id":"role"}`)
	do(t, srv, http.MethodPost, "/tenants/g1/event", "", `{"location":"frankfurt"}`)
	do(t, srv, http.MethodPost, "/tenants/g1/event/submissions", "user1", `{"name":"oak"}`)
	do(t, srv, http.MethodPost, "/tenants/g1/event/submissions", "user2", `{"name":"elm"}`)

	resp, body := do(t, srv, http.MethodPost, "/tenants/g1/event/force-end", "", `{"reason":"enough"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "voting", body["phase"])

	resp, body = do(t, srv, http.MethodPost, "/tenants/g1/event/votes", "user3", `{"option":"oak"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	option, ok := body["option"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "oak", option["name"])

	resp, _ = do(t, srv, http.MethodPost, "/tenants/g1/event/votes", "user1", `{"option":"oak"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/tenants/g1/event/tally", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_votes"])
}

func TestRequestErrors(t *testing.T) {
	srv := newTestServer(t, oracle.Failing(errors.New("prometheus down")))
	do(t, srv, http.MethodPut, "/tenants/g1/destination", "", `{"channel_id":"ch","role_id":"role"}`)
	do(t, srv, http.MethodPost, "/tenants/g1/event", "", `{"location":"frankfurt"}`)

	tests := []struct {
		name       string
		method     string
		path       string
		user       string
		body       string
		wantStatus int
	}{
		{name: "MissingUser", method: http.MethodPost, path: "/tenants/g1/event/submissions", body: `{"name":"oak"}`, wantStatus: http.StatusUnauthorized},
		{name: "BadJSON", method: http.MethodPost, path: "/tenants/g1/event/submissions", user: "u1", body: `{"name":`, wantStatus: http.StatusBadRequest},
		{name: "ReservedName", method: http.MethodPost, path: "/tenants/g1/event/submissions", user: "u1", body: `{"name":"maple"}`, wantStatus: http.StatusBadRequest},
		{name: "OracleDown", method: http.MethodPost, path: "/tenants/g1/event/submissions", user: "u1", body: `{"name":"oak"}`, wantStatus: http.StatusServiceUnavailable},
		{name: "MissingOption", method: http.MethodPost, path: "/tenants/g1/event/votes", user: "u1", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "ZeroExtend", method: http.MethodPost, path: "/tenants/g1/event/extend", body: `{"minutes":0}`, wantStatus: http.StatusBadRequest},
		{name: "UnknownCandidate", method: http.MethodDelete, path: "/tenants/g1/event/candidates/ash", wantStatus: http.StatusNotFound},
		{name: "NegativeDuration", method: http.MethodPost, path: "/tenants/g2/event", body: `{"location":"x","voting_minutes":-1}`, wantStatus: http.StatusBadRequest},
		{name: "HugeDuration", method: http.MethodPost, path: "/tenants/g2/event", body: `{"location":"x","submission_minutes":200000000}`, wantStatus: http.StatusBadRequest},
		{name: "HugeExtend", method: http.MethodPost, path: "/tenants/g1/event/extend", body: `{"minutes":-9223372036854775807}`, wantStatus: http.StatusBadRequest},
		{name: "BadWebhook", method: http.MethodPut, path: "/tenants/g2/destination", body: `{"channel_id":"c","role_id":"r","webhook_url":"ftp://x"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, http.StatusText(tt.wantStatus), body["error"])
		})
	}
}

func TestHealthAndStats(t *testing.T) {
	srv := newTestServer(t, oracle.NewStatic())

	resp, body := do(t, srv, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = do(t, srv, http.MethodGet, "/stats", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "events")

	sick := httptest.NewServer(NewRouter(nil, fakeHealth{}, nil, nil, zaptest.NewLogger(t)))
	defer sick.Close()
	resp, _ = do(t, sick, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(event.NewValidation("bad")))
	assert.Equal(t, http.StatusNotFound, StatusFor(event.NewNotFound("x")))
	assert.Equal(t, http.StatusConflict, StatusFor(event.NewConflict("busy")))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(event.NewExternal("oracle", errors.New("down"))))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(event.NewPersistence("save", errors.New("disk"))))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	tokens := security.NewTokenManager(config.SecurityConfig{
		AdminSecret: "0123456789abcdef0123",
		Issuer:      "naming_events",
		TokenTTL:    time.Hour,
	}, nil)
	srv := newSecuredServer(t, oracle.NewStatic(), tokens)

	scoped, err := tokens.Issue("ops", []string{"g1"}, 0)
	require.NoError(t, err)

	resp, _ := do(t, srv, http.MethodPut, "/tenants/g1/destination", "", `{"channel_id":"ch","role_id":"role"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doAuth(t, srv, http.MethodPut, "/tenants/g1/destination", "", "forged", `{"channel_id":"ch","role_id":"role"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doAuth(t, srv, http.MethodPut, "/tenants/g2/destination", "", scoped.Value, `{"channel_id":"ch","role_id":"role"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doAuth(t, srv, http.MethodPut, "/tenants/g1/destination", "", scoped.Value, `{"channel_id":"ch","role_id":"role"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doAuth(t, srv, http.MethodPost, "/tenants/g1/event", "", scoped.Value, `{"location":"frankfurt"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// member routes stay open
	resp, _ = do(t, srv, http.MethodPost, "/tenants/g1/event/submissions", "user1", `{"name":"oak"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/tenants/g1/event", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
