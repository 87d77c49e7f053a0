package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/oauthgate/internal/handshake"
	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/repository"
)

// mockSessionFinderForRouter はRouter統合テスト用のSessionFinderモック。
type mockSessionFinderForRouter struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinderForRouter) FindByID(_ context.Context, id string) (*model.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, nil
}

type stubProvider struct{}

func (stubProvider) AuthorizationURL(redirectURI, state string) string {
	return "https://idp.example/dialog/oauth?state=" + state
}

func (stubProvider) ExchangeCode(context.Context, string, string) (*model.ProviderCredential, error) {
	return &model.ProviderCredential{AccessToken: "XYZ", ExpiresIn: 3600}, nil
}

func (stubProvider) FetchProfile(context.Context, string) (*model.ProviderProfile, error) {
	return &model.ProviderProfile{ID: "42", Name: "Ann", Email: "ann@x.com"}, nil
}

type stubSessions struct{}

func (stubSessions) LogInWithProviderIdentity(context.Context, model.ProviderLogin) (*model.Session, *model.User, error) {
	return &model.Session{ID: "new-session", UserID: "user-42", ExpiresAt: time.Now().Add(time.Hour)}, &model.User{ID: "user-42"}, nil
}

func (stubSessions) SaveUserFields(context.Context, *model.User) error { return nil }

type routerFixture struct {
	router http.Handler
	store  *repository.MemoryPendingRequestRepo
	reg    *prometheus.Registry
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(t *testing.T, limiter *middleware.RateLimiter) *routerFixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	finder := &mockSessionFinderForRouter{
		sessions: map[string]*model.Session{
			"valid-session": {ID: "valid-session", UserID: "user-test-1", ExpiresAt: time.Now().Add(time.Hour)},
		},
	}
	store := repository.NewMemoryPendingRequestRepo(10*time.Minute, 0)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	controller, err := handshake.NewController(handshake.Config{
		ClientID:  "client-1",
		AppSecret: "secret-1",
	}, store, stubProvider{}, stubSessions{}, nil, collector, logger)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	router := NewRouter(&RouterDeps{
		Logger:         logger,
		HealthChecker:  fakeHealthChecker{},
		Gatherer:       reg,
		HSTS:           true,
		SessionChecker: middleware.NewCookieSessionChecker(finder),
		Handshake:      controller,
		RateLimiter:    limiter,
		AccountService: &mockAccountService{
			getCurrentUserFn: func(context.Context, string) (*model.User, error) {
				return &model.User{ID: "user-test-1", Name: "Test", Email: "test@example.com"}, nil
			},
		},
	})
	return &routerFixture{router: router, store: store, reg: reg}
}

func serve(router http.Handler, method, target, sessionID string) *http.Response {
	req := httptest.NewRequest(method, target, nil)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Result()
}

func TestRouter_HealthIsPublic(t *testing.T) {
	f := createTestRouter(t, nil)

	resp := serve(f.router, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestRouter_MetricsIsPublic(t *testing.T) {
	f := createTestRouter(t, nil)

	serve(f.router, http.MethodGet, "/dashboard", "")
	resp := serve(f.router, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "oauthgate_begin_login_total") {
		t.Error("metrics should include oauthgate_begin_login_total")
	}
}

func TestRouter_UnauthenticatedRequestBeginsLogin(t *testing.T) {
	f := createTestRouter(t, nil)

	for _, path := range []string{"/", "/me", "/dashboard"} {
		resp := serve(f.router, http.MethodGet, path, "")
		if resp.StatusCode != http.StatusFound {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusFound)
		}
		if !strings.HasPrefix(resp.Header.Get("Location"), "https://idp.example/dialog/oauth") {
			t.Errorf("GET %s Location = %q", path, resp.Header.Get("Location"))
		}
		if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("GET %s should carry security headers", path)
		}
	}
}

func TestRouter_CallbackWithoutStateIsRejected(t *testing.T) {
	f := createTestRouter(t, nil)

	resp := serve(f.router, http.MethodGet, "/login?code=ABC", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestRouter_FullLoginThroughRouter(t *testing.T) {
	f := createTestRouter(t, nil)

	begin := serve(f.router, http.MethodGet, "https://app.example/dashboard", "")
	var requestID string
	for _, c := range begin.Cookies() {
		if c.Name == handshake.RequestIDCookieName {
			requestID = c.Value
		}
	}
	if requestID == "" {
		t.Fatal("expected requestId cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "https://app.example/login?code=ABC&state="+requestID, nil)
	req.AddCookie(&http.Cookie{Name: handshake.RequestIDCookieName, Value: requestID})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if got := resp.Header.Get("Location"); got != "https://app.example/dashboard" {
		t.Errorf("Location = %q, want https://app.example/dashboard", got)
	}
}

func TestRouter_AuthenticatedRoutes(t *testing.T) {
	f := createTestRouter(t, nil)

	resp := serve(f.router, http.MethodGet, "/", "valid-session")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp = serve(f.router, http.MethodGet, "/me", "valid-session")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /me status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp = serve(f.router, http.MethodPost, "/logout", "valid-session")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("POST /logout status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestRouter_AuthenticatedUnknownPathIsNotFound(t *testing.T) {
	f := createTestRouter(t, nil)

	resp := serve(f.router, http.MethodGet, "/dashboard", "valid-session")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Code != model.ErrCodeNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeNotFound)
	}
}

func TestRouter_UnauthenticatedMethodMismatchBeginsLogin(t *testing.T) {
	f := createTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/"},
		{http.MethodGet, "/logout"},
		{http.MethodPut, "/me"},
	}

	for _, tt := range tests {
		resp := serve(f.router, tt.method, tt.path, "")
		if resp.StatusCode != http.StatusFound {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, resp.StatusCode, http.StatusFound)
		}
		if !strings.HasPrefix(resp.Header.Get("Location"), "https://idp.example/dialog/oauth") {
			t.Errorf("%s %s Location = %q, want IdP redirect", tt.method, tt.path, resp.Header.Get("Location"))
		}
	}
}

func TestRouter_AuthenticatedMethodMismatch(t *testing.T) {
	f := createTestRouter(t, nil)

	resp := serve(f.router, http.MethodGet, "/logout", "valid-session")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Code != model.ErrCodeMethodNotAllowed {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMethodNotAllowed)
	}
}

func TestRouter_LoginRateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		LoginRate:  0.001,
		LoginBurst: 1,
	}, nil)
	t.Cleanup(limiter.Stop)
	f := createTestRouter(t, limiter)

	first := serve(f.router, http.MethodGet, "/dashboard", "")
	if first.StatusCode != http.StatusFound {
		t.Fatalf("first status = %d, want %d", first.StatusCode, http.StatusFound)
	}

	second := serve(f.router, http.MethodGet, "/dashboard", "")
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want %d", second.StatusCode, http.StatusTooManyRequests)
	}

	authed := serve(f.router, http.MethodGet, "/", "valid-session")
	if authed.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want %d", authed.StatusCode, http.StatusOK)
	}
}
