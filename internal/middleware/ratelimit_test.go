package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/oauthgate/internal/model"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(rl.Stop)
	return rl
}

func loginRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestLoginRateLimit_AllowsRequestsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{LoginRate: 2, LoginBurst: 5, CleanupInterval: time.Minute})

	calls := 0
	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusFound)
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("192.0.2.1:1000"))
		if w.Result().StatusCode != http.StatusFound {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusFound)
		}
	}
	if calls != 5 {
		t.Errorf("handler call count = %d, want 5", calls)
	}
}

func TestLoginRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{LoginRate: 0.5, LoginBurst: 2, CleanupInterval: time.Minute})

	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.1:1000"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("192.0.2.1:2000"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter != 2 {
		t.Errorf("Retry-After = %q, want 2", resp.Header.Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimitExceeded)
	}
}

func TestLoginRateLimit_IsolatesClients(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{LoginRate: 0.1, LoginBurst: 1, CleanupInterval: time.Minute})

	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.1:1000"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("192.0.2.2:1000"))
	if w.Result().StatusCode != http.StatusFound {
		t.Errorf("other client status = %d, want %d", w.Result().StatusCode, http.StatusFound)
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{LoginRate: 1, LoginBurst: 1, CleanupInterval: time.Minute})

	rl.limiterFor("192.0.2.1")
	rl.limiterFor("192.0.2.2")

	rl.cleanup(time.Now().Add(time.Minute))
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount after early cleanup = %d, want 2", rl.LimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.LimiterCount() != 0 {
		t.Errorf("LimiterCount after cleanup = %d, want 0", rl.LimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), nil)
	rl.Stop()
	rl.Stop()
}

func TestLoginRateLimiterConfig(t *testing.T) {
	cfg := LoginRateLimiterConfig(60)
	if cfg.LoginRate != 1 {
		t.Errorf("LoginRate = %v, want 1", cfg.LoginRate)
	}
	if cfg.LoginBurst != 60 {
		t.Errorf("LoginBurst = %d, want 60", cfg.LoginBurst)
	}

	def := DefaultRateLimiterConfig()
	if def.LoginBurst != 30 {
		t.Errorf("default LoginBurst = %d, want 30", def.LoginBurst)
	}
}
