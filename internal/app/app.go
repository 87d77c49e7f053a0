// Package app はサブコマンドごとの依存関係のワイヤリングと起動処理を提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/oauthgate/internal/auth"
	"github.com/hitoshi/oauthgate/internal/config"
	"github.com/hitoshi/oauthgate/internal/database"
	"github.com/hitoshi/oauthgate/internal/handler"
	"github.com/hitoshi/oauthgate/internal/handshake"
	"github.com/hitoshi/oauthgate/internal/logger"
	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/repository"
	"github.com/hitoshi/oauthgate/internal/security"
	"github.com/hitoshi/oauthgate/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, false)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. verbose設定に合わせてログレベルを再設定する
	if cfg.Verbose {
		logger.SetupDefault(w, true)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("pending_store", cfg.PendingStore),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandPurge:
		return runPurge(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newPendingStore は設定に応じたPendingRequestストアを生成する。
// 戻り値のcloseは接続などのリソースを解放する。
func newPendingStore(ctx context.Context, cfg *config.Config, db *sql.DB) (handshake.PendingRequestStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.PendingStore {
	case config.PendingStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		return repository.NewRedisPendingRequestRepo(client, cfg.PendingRequestTTL), client.Close, nil
	case config.PendingStoreMemory:
		slog.Warn("using in-memory pending request store; login attempts do not survive restarts or span instances")
		return repository.NewMemoryPendingRequestRepo(cfg.PendingRequestTTL, memoryJanitorInterval(cfg)), noop, nil
	default:
		return repository.NewPostgresPendingRequestRepo(db, cfg.PendingRequestTTL), noop, nil
	}
}

// memoryJanitorInterval はメモリストアのjanitor間隔を返す。
// ワーカーはserveプロセスのメモリに届かないため、janitorを止める設定値はTTLで置き換える。
func memoryJanitorInterval(cfg *config.Config) time.Duration {
	if cfg.CleanupInterval > 0 {
		return cfg.CleanupInterval
	}
	if cfg.PendingRequestTTL > 0 {
		return cfg.PendingRequestTTL
	}
	return repository.DefaultPendingRequestTTL
}

// newProvider はエンドポイントを検証し、SSRF対策済みのクライアントでGraphProviderを生成する。
func newProvider(cfg *config.Config, guard security.EndpointGuard) (*auth.GraphProvider, error) {
	if err := guard.ValidateEndpoints(cfg.ProviderAuthURL, cfg.ProviderTokenURL, cfg.ProviderProfileURL); err != nil {
		return nil, fmt.Errorf("invalid provider endpoints: %w", err)
	}

	return auth.NewGraphProvider(auth.GraphProviderConfig{
		ClientID:   cfg.ProviderClientID,
		AppSecret:  cfg.ProviderAppSecret,
		Scope:      cfg.ProviderScope,
		AuthURL:    cfg.ProviderAuthURL,
		TokenURL:   cfg.ProviderTokenURL,
		ProfileURL: cfg.ProviderProfileURL,
	}, guard.NewSafeClient(cfg.ProviderTimeout)), nil
}

// newRegistry はGo・プロセスのメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.CheckSchema(cfg.DatabaseURL); err != nil {
		return err
	}
	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	store, closeStore, err := newPendingStore(context.Background(), cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. セキュリティ・メトリクスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewProfileSanitizer()
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	provider, err := newProvider(cfg, ssrfGuard)
	if err != nil {
		return err
	}
	sessionService := auth.NewSessionService(userRepo, identRepo, sessionRepo, slog.Default())

	controller, err := handshake.NewController(handshake.Config{
		ClientID:            cfg.ProviderClientID,
		AppSecret:           cfg.ProviderAppSecret,
		CallbackPath:        cfg.CallbackPath,
		PendingRequestTTL:   cfg.PendingRequestTTL,
		ExternalCallTimeout: cfg.ProviderTimeout,
		CookieSecure:        cfg.CookieSecure,
		CookieDomain:        cfg.CookieDomain,
		Verbose:             cfg.Verbose,
	}, store, provider, sessionService, sanitizer, collector, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to configure login handshake: %w", err)
	}

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.LoginRateLimiterConfig(cfg.RateLimitLogin),
		slog.Default(),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		HealthChecker:  db,
		Gatherer:       reg,
		HSTS:           cfg.CookieSecure,
		SessionChecker: middleware.NewCookieSessionChecker(sessionRepo),
		Handshake:      controller,
		RateLimiter:    rateLimiter,
		AccountService: sessionService,
		AccountConfig: handler.AccountHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + 2*cfg.ProviderTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("callback_path", cfg.CallbackPath),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// cleanupTargets はワーカーが定期削除する対象を返す。
// RedisとメモリのストアはTTLで自動削除されるため対象外とする。
func cleanupTargets(cfg *config.Config, db *sql.DB) []cleanup.Target {
	targets := []cleanup.Target{
		{Name: "sessions", Purger: repository.NewPostgresSessionRepo(db)},
	}
	if cfg.PendingStore == config.PendingStorePostgres {
		targets = append(targets, cleanup.Target{
			Name:   "pending_requests",
			Purger: repository.NewPostgresPendingRequestRepo(db, cfg.PendingRequestTTL),
		})
	}
	return targets
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れレコードのクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.CheckSchema(cfg.DatabaseURL); err != nil {
		return err
	}
	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	collector := metrics.NewCollector(newRegistry())
	cleanupJob := cleanup.NewCleanupJob(cleanupTargets(cfg, db), collector, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runPurge は期限切れレコードを1回だけ削除する。
func runPurge(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(cleanupTargets(cfg, db), metrics.NopCollector{}, slog.Default())
	return job.Run(context.Background())
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
