package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/oauthgate/internal/handshake"
	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger        *slog.Logger
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
	HSTS          bool

	// ハンドシェイク
	SessionChecker handshake.SessionChecker
	Handshake      *handshake.Controller
	RateLimiter    *middleware.RateLimiter

	// アカウント
	AccountService AccountServiceInterface
	AccountConfig  AccountHandlerConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → SessionMiddleware(handshake)
//
// /health と /metrics はハンドシェイクの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger))

	// --- 認証不要のルート ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証が必要なルート ---
	// 未認証のリクエストはハンドシェイクに回される
	var beginGuards []func(http.Handler) http.Handler
	if deps.RateLimiter != nil {
		beginGuards = append(beginGuards, deps.RateLimiter.LoginMiddleware())
	}

	accountHandler := NewAccountHandler(deps.AccountService, deps.AccountConfig)

	r.Group(func(r chi.Router) {
		r.Use(handshake.NewSessionMiddleware(deps.SessionChecker, deps.Handshake, logger, beginGuards...))

		r.Get("/", accountHandler.Home)
		r.Get("/me", accountHandler.Me)
		r.Post("/logout", accountHandler.Logout)
		// NotFound/MethodNotAllowedもグループ内で登録し、ハンドシェイクを経由させる
		r.NotFound(NotFound)
		r.MethodNotAllowed(MethodNotAllowed)
	})

	return r
}
