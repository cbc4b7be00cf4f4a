package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

func testService(t *testing.T, handler http.Handler, retries int) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewService(Config{
		Endpoint:     srv.URL,
		APIKey:       "test-key",
		PollInterval: 10 * time.Millisecond,
		Retries:      retries,
	}, arbor.NewLogger())
}

func TestSolvePollsUntilToken(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-key", r.Form.Get("key"))
		assert.Equal(t, "sk-123", r.Form.Get("sitekey"))
		json.NewEncoder(w).Encode(submitResponse{ID: "ch-1"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ch-1", r.URL.Query().Get("id"))
		if atomic.AddInt32(&polls, 1) < 3 {
			json.NewEncoder(w).Encode(pollResponse{Status: "pending"})
			return
		}
		json.NewEncoder(w).Encode(pollResponse{Status: "solved", Token: "tok-xyz"})
	})

	svc := testService(t, mux, 10)
	token, err := svc.Solve(context.Background(), interfaces.CaptchaInfo{SiteKey: "sk-123", PageURL: "https://example.com", Kind: "recaptcha"})
	require.NoError(t, err)
	assert.Equal(t, "tok-xyz", token)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestSolveRetryBudgetExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{ID: "ch-1"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(pollResponse{Status: "pending"})
	})

	svc := testService(t, mux, 3)
	_, err := svc.Solve(context.Background(), interfaces.CaptchaInfo{SiteKey: "sk"})
	require.Error(t, err)

	var ce *models.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.ErrorKindCaptcha, ce.Kind)
}

func TestSolveBackendFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{ID: "ch-1"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(pollResponse{Status: "failed", Error: "unsolvable"})
	})

	svc := testService(t, mux, 5)
	_, err := svc.Solve(context.Background(), interfaces.CaptchaInfo{SiteKey: "sk"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsolvable")
}

func TestSolveUnconfigured(t *testing.T) {
	svc := NewService(Config{}, arbor.NewLogger())
	_, err := svc.Solve(context.Background(), interfaces.CaptchaInfo{})
	require.Error(t, err)

	var ce *models.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.ErrorKindCaptcha, ce.Kind)
}

func TestSolveHonoursContextCancellation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{ID: "ch-1"})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(pollResponse{Status: "pending"})
	})

	svc := testService(t, mux, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := svc.Solve(ctx, interfaces.CaptchaInfo{SiteKey: "sk"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
