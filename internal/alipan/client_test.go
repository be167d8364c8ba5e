package alipan

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing both endpoints at the given
// httptest server with instant retry sleeps.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	session := &Session{
		AccessToken:  "test-access",
		RefreshToken: "test-refresh",
		DriveID:      "drive-1",
		UserID:       "user-1",
	}

	c := NewClient(session, slog.Default(), WithEndpoints(url, url))
	c.sleepFunc = noopSleep

	return c
}

func TestPost_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-access", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		_, _ = w.Write([]byte(`{"file_id":"f1","name":"a.txt","size":42}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var f File
	err := client.post(context.Background(), "/v2/file/get", map[string]any{}, &f)
	require.NoError(t, err)
	assert.Equal(t, "f1", f.FileID)
	assert.Equal(t, int64(42), f.Size)
}

func TestPost_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, `{"code":"InvalidParameter","message":"bad"}`, ErrBadRequest},
		{"forbidden", http.StatusForbidden, `{"code":"Forbidden","message":"no"}`, ErrForbidden},
		{"not found status", http.StatusNotFound, `{"message":"gone"}`, ErrNotFound},
		{"not found code", http.StatusNotFound, `{"code":"NotFound.File"}`, ErrNotFound},
		{"already exist", http.StatusConflict, `{"code":"AlreadyExist.File"}`, ErrAlreadyExist},
		{"pre-hash matched", http.StatusConflict, `{"code":"PreHashMatched"}`, ErrPreHashMatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			err := client.post(context.Background(), "/test", map[string]any{}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestPost_RetriesServerError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/flaky", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPost_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/down", map[string]any{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestPost_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/bad", map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPost_BodyReplayedOnRetry(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "f1", req["file_id"])

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/replay", map[string]string{"file_id": "f1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPost_RefreshesExpiredToken(t *testing.T) {
	var apiCalls, tokenCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, _ *http.Request) {
		tokenCalls.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":7200}`))
	})
	mux.HandleFunc("/v2/file/get", func(w http.ResponseWriter, r *http.Request) {
		if apiCalls.Add(1) == 1 {
			assert.Equal(t, "Bearer test-access", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"AccessTokenInvalid","message":"token expired"}`))

			return
		}

		assert.Equal(t, "Bearer new-access", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"file_id":"f1"}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var f File
	err := client.post(context.Background(), "/v2/file/get", map[string]any{}, &f)
	require.NoError(t, err)
	assert.Equal(t, "f1", f.FileID)
	assert.Equal(t, int32(2), apiCalls.Load())
	assert.Equal(t, int32(1), tokenCalls.Load())
	assert.Equal(t, "new-refresh", client.Session().RefreshToken)
}

func TestPost_RefreshOnlyOnce(t *testing.T) {
	var tokenCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, _ *http.Request) {
		tokenCalls.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":7200}`))
	})
	mux.HandleFunc("/stale", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"AccessTokenInvalid"}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/stale", map[string]any{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestRefresh_InvokesSessionCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-refresh", req["refresh_token"])
		assert.Equal(t, "refresh_token", req["grant_type"])

		_, _ = w.Write([]byte(`{
			"access_token": "new-access",
			"refresh_token": "new-refresh",
			"expires_in": 7200,
			"user_id": "user-1",
			"default_drive_id": "drive-9"
		}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var saved *Session
	client.onSession = func(s *Session) error {
		saved = s
		return nil
	}

	err := client.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "new-refresh", saved.RefreshToken)
	assert.Equal(t, "drive-9", saved.DriveID)
	assert.WithinDuration(t, time.Now().Add(7200*time.Second), saved.ExpiresAt, time.Minute)
}

func TestRefresh_MissingTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":""}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing tokens")
}

func TestCalcBackoff_WithinJitterBounds(t *testing.T) {
	client := newTestClient(t, "http://unused")

	for attempt := range maxRetries {
		base := float64(baseBackoff) * pow(backoffFactor, attempt)
		if base > float64(maxBackoff) {
			base = float64(maxBackoff)
		}

		for range 20 {
			d := client.calcBackoff(attempt)
			assert.GreaterOrEqual(t, float64(d), base*(1-jitterFraction))
			assert.LessOrEqual(t, float64(d), base*(1+jitterFraction))
		}
	}
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for range exp {
		out *= base
	}

	return out
}
