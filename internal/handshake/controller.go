// Package handshake はOAuth認可コードフローによるログインハンドシェイクを提供する。
//
// 未認証のリクエストはBeginLoginでIdPへリダイレクトされ、コールバックパスへの
// 戻りはEndLoginでCSRF検証・トークン交換・プロフィール取得・セッション確立を経て
// 元のURLへリダイレクトされる。
package handshake

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
)

const (
	// DefaultCallbackPath はIdPからの戻り先パスのデフォルト値。
	DefaultCallbackPath = "/login"
	// DefaultExternalCallTimeout はストア・IdP・セッションストアへの各呼び出しのタイムアウト。
	DefaultExternalCallTimeout = 10 * time.Second
	// DefaultPendingRequestTTL はrequestId Cookieの有効期間。
	DefaultPendingRequestTTL = 10 * time.Minute
)

// RequestIDCookieName はCSRFトークン（PendingRequestのID）を保持するCookie名。
const RequestIDCookieName = "requestId"

// PendingRequestStore はPendingRequestの永続化に必要なインターフェース。
// repository.PendingRequestRepositoryの部分集合として定義する。
type PendingRequestStore interface {
	Create(ctx context.Context, originalURL string) (*model.PendingRequest, error)
	FetchPrivileged(ctx context.Context, id string) (*model.PendingRequest, error)
	Delete(ctx context.Context, id string) error
}

// IdentityProvider はIdPとの通信に必要なインターフェース。
type IdentityProvider interface {
	AuthorizationURL(redirectURI, state string) string
	ExchangeCode(ctx context.Context, redirectURI, code string) (*model.ProviderCredential, error)
	FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error)
}

// SessionStore はローカルセッションの確立に必要なインターフェース。
type SessionStore interface {
	LogInWithProviderIdentity(ctx context.Context, login model.ProviderLogin) (*model.Session, *model.User, error)
	SaveUserFields(ctx context.Context, user *model.User) error
}

// TextSanitizer はIdPから受け取った文字列を保存前に無害化する。
// 戻り値はエスケープされていないプレーンテキスト。
type TextSanitizer interface {
	SanitizeText(raw string) string
	SanitizeEmail(raw string) (string, error)
}

// Config はハンドシェイクの設定。
type Config struct {
	ClientID            string
	AppSecret           string
	CallbackPath        string
	PendingRequestTTL   time.Duration
	ExternalCallTimeout time.Duration
	CookieSecure        bool
	CookieDomain        string
	Verbose             bool
}

// Controller はBeginLoginとEndLoginを提供する。
// 構築後は不変で、複数のgoroutineから同時に使用できる。
type Controller struct {
	config    Config
	store     PendingRequestStore
	provider  IdentityProvider
	sessions  SessionStore
	sanitizer TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewController はControllerを生成する。
// clientIdまたはappSecretが空、あるいはコールバックパスが不正な場合は
// KindConfigurationのHandshakeErrorを返す。
func NewController(
	config Config,
	store PendingRequestStore,
	provider IdentityProvider,
	sessions SessionStore,
	sanitizer TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) (*Controller, error) {
	if config.ClientID == "" {
		return nil, model.NewHandshakeError(model.KindConfiguration, "", errors.New("clientId is required"))
	}
	if config.AppSecret == "" {
		return nil, model.NewHandshakeError(model.KindConfiguration, "", errors.New("appSecret is required"))
	}
	if config.CallbackPath == "" {
		config.CallbackPath = DefaultCallbackPath
	}
	if err := validateCallbackPath(config.CallbackPath); err != nil {
		return nil, model.NewHandshakeError(model.KindConfiguration, "", err)
	}
	if config.PendingRequestTTL <= 0 {
		config.PendingRequestTTL = DefaultPendingRequestTTL
	}
	if config.ExternalCallTimeout <= 0 {
		config.ExternalCallTimeout = DefaultExternalCallTimeout
	}
	if store == nil || provider == nil || sessions == nil {
		return nil, model.NewHandshakeError(model.KindConfiguration, "", errors.New("store, provider and sessions are required"))
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		config:    config,
		store:     store,
		provider:  provider,
		sessions:  sessions,
		sanitizer: sanitizer,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// CallbackPath はIdPからの戻り先パスを返す。
func (c *Controller) CallbackPath() string {
	return c.config.CallbackPath
}

// BeginLogin はPendingRequestを作成し、CSRF Cookieを設定してIdPの認可画面へリダイレクトする。
func (c *Controller) BeginLogin(w http.ResponseWriter, r *http.Request) {
	originalURL := originalRequestURL(r)

	ctx, cancel := context.WithTimeout(r.Context(), c.config.ExternalCallTimeout)
	defer cancel()

	pending, err := c.store.Create(ctx, originalURL)
	if err != nil {
		c.logger.Error("failed to create pending request",
			slog.String("error", err.Error()),
		)
		c.metrics.RecordBeginLogin(metrics.BeginOutcomeStoreError)
		middleware.WriteInternalServerError(w)
		return
	}

	c.setRequestIDCookie(w, pending.ID)

	c.logVerbose("redirecting to identity provider",
		slog.String("original_url", originalURL),
	)
	c.metrics.RecordBeginLogin(metrics.BeginOutcomeRedirected)

	authURL := c.provider.AuthorizationURL(callbackURL(r, c.config.CallbackPath), pending.ID)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// logVerbose はverbose設定が有効な場合のみ診断ログを出力する。
func (c *Controller) logVerbose(msg string, attrs ...any) {
	if c.config.Verbose {
		c.logger.Info(msg, attrs...)
	}
}

// validateCallbackPath はコールバックパスが"/"で始まる相対パスであることを検証する。
func validateCallbackPath(path string) error {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return errors.New("callback path must start with a single \"/\"")
	}
	u, err := url.Parse(path)
	if err != nil {
		return err
	}
	if u.Scheme != "" || u.Host != "" || u.RawQuery != "" || u.Fragment != "" {
		return errors.New("callback path must not contain scheme, host, query or fragment")
	}
	return nil
}
