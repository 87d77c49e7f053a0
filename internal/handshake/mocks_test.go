package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/repository"
)

var fixedNow = time.Date(2026, 10, 19, 0, 30, 0, 0, time.UTC)

// --- モック定義 ---

// fakeStore はメモリ上のPendingRequestStore。呼び出し回数を記録する。
type fakeStore struct {
	mu          sync.Mutex
	records     map[string]*model.PendingRequest
	ids         []string
	createErr   error
	fetchErr    error
	deleteErr   error
	createCalls int
	fetchCalls  int
	deleteCalls int
}

func newFakeStore(ids ...string) *fakeStore {
	return &fakeStore{records: make(map[string]*model.PendingRequest), ids: ids}
}

func (s *fakeStore) Create(_ context.Context, originalURL string) (*model.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}

	id := fmt.Sprintf("req-%d", s.createCalls)
	if len(s.ids) > 0 {
		id, s.ids = s.ids[0], s.ids[1:]
	}
	p := &model.PendingRequest{
		ID:          id,
		OriginalURL: originalURL,
		CreatedAt:   fixedNow,
		ExpiresAt:   fixedNow.Add(DefaultPendingRequestTTL),
	}
	s.records[id] = p
	return p, nil
}

func (s *fakeStore) FetchPrivileged(_ context.Context, id string) (*model.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	p, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.records[id]; !ok {
		return repository.ErrPendingRequestNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeStore) put(id, originalURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = &model.PendingRequest{ID: id, OriginalURL: originalURL, CreatedAt: fixedNow}
}

func (s *fakeStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

func (s *fakeStore) get(id string) *model.PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

type mockProvider struct {
	mu            sync.Mutex
	exchangeFn    func(ctx context.Context, redirectURI, code string) (*model.ProviderCredential, error)
	profileFn     func(ctx context.Context, accessToken string) (*model.ProviderProfile, error)
	authURLCalls  int
	exchangeCalls int
	profileCalls  int
	lastRedirect  string
	lastCode      string
	lastToken     string
}

func (m *mockProvider) AuthorizationURL(redirectURI, state string) string {
	m.mu.Lock()
	m.authURLCalls++
	m.mu.Unlock()
	q := url.Values{
		"client_id":     {"client-1"},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"state":         {state},
	}
	return "https://idp.example/dialog/oauth?" + q.Encode()
}

func (m *mockProvider) ExchangeCode(ctx context.Context, redirectURI, code string) (*model.ProviderCredential, error) {
	m.mu.Lock()
	m.exchangeCalls++
	m.lastRedirect = redirectURI
	m.lastCode = code
	m.mu.Unlock()
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, redirectURI, code)
	}
	return &model.ProviderCredential{AccessToken: "XYZ", ExpiresIn: 3600}, nil
}

func (m *mockProvider) FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error) {
	m.mu.Lock()
	m.profileCalls++
	m.lastToken = accessToken
	m.mu.Unlock()
	if m.profileFn != nil {
		return m.profileFn(ctx, accessToken)
	}
	return &model.ProviderProfile{ID: "42", Name: "Ann", Email: "ann@x.com"}, nil
}

// mockSessions はSessionStoreとmiddleware.SessionFinderの両方を満たす。
type mockSessions struct {
	mu         sync.Mutex
	logInFn    func(ctx context.Context, login model.ProviderLogin) (*model.Session, *model.User, error)
	saveFn     func(ctx context.Context, user *model.User) error
	logInCalls int
	saveCalls  int
	lastLogin  model.ProviderLogin
	savedUser  model.User
	sessions   map[string]*model.Session
}

func newMockSessions() *mockSessions {
	return &mockSessions{sessions: make(map[string]*model.Session)}
}

func (m *mockSessions) LogInWithProviderIdentity(ctx context.Context, login model.ProviderLogin) (*model.Session, *model.User, error) {
	m.mu.Lock()
	m.logInCalls++
	m.lastLogin = login
	n := m.logInCalls
	m.mu.Unlock()

	if m.logInFn != nil {
		return m.logInFn(ctx, login)
	}

	expiresAt, err := model.ParseExpiration(login.ExpirationDate)
	if err != nil {
		return nil, nil, err
	}
	session := &model.Session{
		ID:        fmt.Sprintf("session-%d", n),
		UserID:    "user-" + login.ProviderUserID,
		ExpiresAt: expiresAt,
		CreatedAt: fixedNow,
	}
	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()
	return session, &model.User{ID: session.UserID}, nil
}

func (m *mockSessions) SaveUserFields(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	m.saveCalls++
	m.savedUser = *user
	m.mu.Unlock()
	if m.saveFn != nil {
		return m.saveFn(ctx, user)
	}
	return nil
}

func (m *mockSessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

type mockChecker struct {
	session *model.Session
	err     error
}

func (m *mockChecker) CurrentSession(_ *http.Request) (*model.Session, error) {
	return m.session, m.err
}

// compile-time interface checks
var (
	_ PendingRequestStore = (*fakeStore)(nil)
	_ PendingRequestStore = (*repository.MemoryPendingRequestRepo)(nil)
	_ IdentityProvider    = (*mockProvider)(nil)
	_ SessionStore        = (*mockSessions)(nil)
	_ SessionChecker      = (*mockChecker)(nil)
	_ SessionChecker      = (*middleware.CookieSessionChecker)(nil)
)

// --- ヘルパー ---

func testConfig() Config {
	return Config{
		ClientID:     "client-1",
		AppSecret:    "secret-1",
		CookieSecure: true,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestController(t *testing.T, config Config, store *fakeStore, provider *mockProvider, sessions *mockSessions) *Controller {
	t.Helper()
	c, err := NewController(config, store, provider, sessions, nil, nil, discardLogger())
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	c.now = func() time.Time { return fixedNow }
	return c
}

// callbackRequest はコールバックリクエストを生成する。cookieが空の場合はrequestId Cookieを付けない。
func callbackRequest(query, cookie string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "https://app.example/login?"+query, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: RequestIDCookieName, Value: cookie})
	}
	return req
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeErrorBody(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}
