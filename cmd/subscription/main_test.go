package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/config"
)

func fakeStrava(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /push_subscriptions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://enricher.example.com/webhook", r.PostForm.Get("callback_url"))
		assert.Equal(t, "STRAVA", r.PostForm.Get("verify_token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":120475}`))
	})
	mux.HandleFunc("GET /push_subscriptions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":120475,"callback_url":"https://enricher.example.com/webhook","created_at":"2025-04-09T12:00:00Z"}]`))
	})
	mux.HandleFunc("DELETE /push_subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "120475", r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(apiURL string) *config.Config {
	return &config.Config{
		PublicBaseURL:      "https://enricher.example.com",
		StravaAPIURL:       apiURL,
		StravaClientID:     "12345",
		StravaClientSecret: "shh",
		StravaVerifyToken:  "STRAVA",
	}
}

func TestRun(t *testing.T) {
	cfg := testConfig(fakeStrava(t).URL)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"create"}, "created subscription 120475 -> https://enricher.example.com/webhook\n"},
		{[]string{"list"}, "120475\thttps://enricher.example.com/webhook\t2025-04-09T12:00:00Z\n"},
		{[]string{"delete", "-id", "120475"}, "deleted subscription 120475\n"},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, run(context.Background(), tt.args, cfg, &out))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestRun_UsageErrors(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")

	require.ErrorIs(t, run(context.Background(), nil, cfg, &bytes.Buffer{}), errUsage)
	require.ErrorIs(t, run(context.Background(), []string{"rename"}, cfg, &bytes.Buffer{}), errUsage)
	require.Error(t, run(context.Background(), []string{"delete"}, cfg, &bytes.Buffer{}))
}
