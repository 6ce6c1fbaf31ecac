package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/api"
	"github.com/xraph/subledger/id"
	"github.com/xraph/subledger/store/memory"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

// steppingClock advances one hour per reading.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Hour)
		return now
	}
}

type fixture struct {
	ledger *subledger.Ledger
	server *httptest.Server
	userID int64
}

func newFixture(t *testing.T, cfg api.Config) *fixture {
	t.Helper()
	ctx := context.Background()

	l := subledger.New(memory.New(), subledger.WithClock(steppingClock()))
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() { _ = l.Stop() })

	u := &user.User{Email: "shreya@example.com", Username: "shreya"}
	require.NoError(t, l.CreateUser(ctx, u))

	srv := httptest.NewServer(api.NewRouter(l, cfg))
	t.Cleanup(srv.Close)

	return &fixture{ledger: l, server: srv, userID: u.ID}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) createSubscription(t *testing.T, planID int64) int64 {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/admin/subscription",
		`{"userId":`+itoa(f.userID)+`,"planId":`+itoa(planID)+`}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return int64(body["subscriptionId"].(float64))
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestRouter_PauseResumeLifecycle(t *testing.T) {
	f := newFixture(t, api.Config{})
	subID := f.createSubscription(t, 1)
	base := "/api/admin/subscription/" + itoa(subID)

	resp, body := f.do(t, http.MethodPost, base+"/pause", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "applied", body["outcome"])

	resp, body = f.do(t, http.MethodPost, base+"/pause", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "no_open_period", body["outcome"])

	resp, _ = f.do(t, http.MethodPost, base+"/resume", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	rows, err := f.ledger.GetUserSubscriptions(context.Background(), f.userID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, subscription.StatusActive, *rows[2].Status)
	assert.Nil(t, rows[2].PeriodEnd)
}

func TestRouter_UserSubscriptionsRows(t *testing.T) {
	f := newFixture(t, api.Config{})
	a := f.createSubscription(t, 1)
	f.createSubscription(t, 2)
	f.do(t, http.MethodPost, "/api/admin/subscription/"+itoa(a)+"/pause", "")

	resp, err := http.Get(f.server.URL + "/api/admin/user/" + itoa(f.userID) + "/subscriptions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []subscription.Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 3)
	assert.Equal(t, a, rows[0].SubscriptionID)
	assert.Equal(t, a, rows[1].SubscriptionID)
	assert.NotEqual(t, a, rows[2].SubscriptionID)
}

func TestRouter_ErrorMapping(t *testing.T) {
	f := newFixture(t, api.Config{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing fields", http.MethodPost, "/api/admin/subscription", `{"userId":1}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/admin/subscription", `{`, http.StatusBadRequest},
		{"unknown plan", http.MethodPost, "/api/admin/subscription", `{"userId":1,"planId":99}`, http.StatusNotFound},
		{"unknown user", http.MethodPost, "/api/admin/subscription", `{"userId":99,"planId":1}`, http.StatusNotFound},
		{"bad id", http.MethodPost, "/api/admin/subscription/abc/pause", "", http.StatusBadRequest},
		{"unknown subscription", http.MethodPost, "/api/admin/subscription/404/pause", "", http.StatusNotFound},
		{"bad date", http.MethodPut, "/api/admin/subscription/1/start-date", `{"startDate":"yesterday"}`, http.StatusBadRequest},
		{"unknown subscription start date", http.MethodPut, "/api/admin/subscription/404/start-date", `{"startDate":"2024-01-15"}`, http.StatusNotFound},
		{"unknown subscription delete", http.MethodDelete, "/api/admin/subscription/404", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRouter_StartDateAndDelete(t *testing.T) {
	f := newFixture(t, api.Config{})
	subID := f.createSubscription(t, 1)
	base := "/api/admin/subscription/" + itoa(subID)

	resp, _ := f.do(t, http.MethodPut, base+"/start-date", `{"startDate":"2023-06-01"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sub, err := f.ledger.GetSubscription(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), sub.StartDate)

	resp, body := f.do(t, http.MethodDelete, base+"/periods", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 1, body["deleted"], 0)

	resp, _ = f.do(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, base+"/pause", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_Backfill(t *testing.T) {
	f := newFixture(t, api.Config{})
	old := f.createSubscription(t, 1)

	resp, body := f.do(t, http.MethodPost, "/api/admin/subscription/backfill",
		`{"userId":`+itoa(f.userID)+`,"planId":1,"startDate":"2023-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newID := int64(body["subscriptionId"].(float64))
	assert.NotEqual(t, old, newID)

	_, err := f.ledger.GetSubscription(context.Background(), old)
	assert.True(t, subledger.IsNotFound(err))
}

func TestRouter_AdminAuth(t *testing.T) {
	secret := "test-secret"
	f := newFixture(t, api.Config{JWTSecret: secret})

	sign := func(role string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "1",
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		s, err := tok.SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}

	resp, _ := f.do(t, http.MethodGet, "/api/admin/plans", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/admin/plans", "", "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/admin/plans", "", "Authorization", "Bearer "+sign("user"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/admin/plans", "", "Authorization", "Bearer "+sign("admin"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays public.
	resp, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_RateLimitAndRequestID(t *testing.T) {
	f := newFixture(t, api.Config{RateLimitRPS: 0.001, RateLimitBurst: 1})

	incoming := id.NewRequestID().String()
	resp, _ := f.do(t, http.MethodGet, "/health", "", api.RequestIDHeader, incoming)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, incoming, resp.Header.Get(api.RequestIDHeader))

	resp, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get(api.RequestIDHeader), "req_"))
}

func TestRouter_RequestIDReplacesMalformed(t *testing.T) {
	f := newFixture(t, api.Config{})

	for _, in := range []string{"req-fixed", "<script>", id.NewAuditEventID().String()} {
		resp, _ := f.do(t, http.MethodGet, "/health", "", api.RequestIDHeader, in)
		got := resp.Header.Get(api.RequestIDHeader)
		assert.NotEqual(t, in, got)
		_, err := id.ParseRequestID(got)
		assert.NoError(t, err, "minted id %q", got)
	}
}

func TestRouter_CORSCredentials(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		credentials string
	}{
		{"default origins never send credentials", nil, "https://evil.example", ""},
		{"explicit origin gets credentials", []string{"https://studio.example"}, "https://studio.example", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, api.Config{CORSOrigins: tt.origins})
			resp, _ := f.do(t, http.MethodGet, "/api/admin/plans", "", "Origin", tt.origin)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.origin, resp.Header.Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, resp.Header.Get("Access-Control-Allow-Credentials"))
		})
	}

	f := newFixture(t, api.Config{CORSOrigins: []string{"https://studio.example"}})
	resp, _ := f.do(t, http.MethodGet, "/api/admin/plans", "", "Origin", "https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestRouter_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	f := newFixture(t, api.Config{Metrics: metrics})

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
