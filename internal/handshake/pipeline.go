package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/repository"
)

// EndLoginのステップ名。失敗時はHandshakeError.Stepに入る。
const (
	StepVerifyCSRF            = "verify_csrf"
	StepExchangeCode          = "exchange_code"
	StepFetchProfile          = "fetch_profile"
	StepLogIn                 = "log_in"
	StepSaveUser              = "save_user"
	StepConsumePendingRequest = "consume_pending_request"
)

// IdPエンドポイントのメトリクスラベル。
const (
	endpointToken   = "token"
	endpointProfile = "profile"
)

// exchange は1回のEndLogin処理の状態を保持する。リクエストごとに生成し、共有しない。
type exchange struct {
	request     *http.Request
	state       string
	redirectURI string
	credential  *model.ProviderCredential
	profile     *model.ProviderProfile
	session     *model.Session
	user        *model.User
	originalURL string
}

// step はEndLoginパイプラインの名前付きステップ。
// runが失敗するとkindの分類でパイプライン全体が失敗する。
type step struct {
	name string
	kind model.ErrorKind
	run  func(ctx context.Context, ex *exchange) error
}

// steps はEndLoginのステップを実行順に返す。
func (c *Controller) steps() []step {
	return []step{
		{name: StepVerifyCSRF, kind: model.KindCSRFValidation, run: c.verifyCSRF},
		{name: StepExchangeCode, kind: model.KindProviderCommunication, run: c.exchangeCode},
		{name: StepFetchProfile, kind: model.KindProviderCommunication, run: c.fetchProfile},
		{name: StepLogIn, kind: model.KindSessionEstablishment, run: c.logIn},
		{name: StepSaveUser, kind: model.KindSessionEstablishment, run: c.saveUser},
		{name: StepConsumePendingRequest, kind: model.KindPendingRequestLookup, run: c.consumePendingRequest},
	}
}

// EndLogin はIdPからのコールバックを処理する。
// すべてのステップが成功した場合のみセッションCookieを設定し、元のURLへリダイレクトする。
// 失敗時はリダイレクトせず、分類に応じたステータスのJSONエラーを返す。
func (c *Controller) EndLogin(w http.ResponseWriter, r *http.Request) {
	ex, err := c.runPipeline(r)
	if err != nil {
		c.writeFailure(w, err)
		return
	}

	c.setSessionCookie(w, ex.session)
	c.clearRequestIDCookie(w)
	c.metrics.RecordEndLogin(metrics.EndOutcomeSuccess)

	c.logVerbose("login completed",
		slog.String("user_id", ex.user.ID),
		slog.String("original_url", ex.originalURL),
	)
	http.Redirect(w, r, ex.originalURL, http.StatusFound)
}

// runPipeline はステップを順に実行し、最初の失敗をHandshakeErrorとして返す。
func (c *Controller) runPipeline(r *http.Request) (*exchange, *model.HandshakeError) {
	ex := &exchange{
		request:     r,
		redirectURI: callbackURL(r, c.config.CallbackPath),
	}

	for _, s := range c.steps() {
		if err := c.runStep(r.Context(), s, ex); err != nil {
			return nil, model.NewHandshakeError(s.kind, s.name, err)
		}
	}
	return ex, nil
}

// runStep は1ステップをタイムアウト付きのコンテキストで実行する。
func (c *Controller) runStep(parent context.Context, s step, ex *exchange) error {
	ctx, cancel := context.WithTimeout(parent, c.config.ExternalCallTimeout)
	defer cancel()
	return s.run(ctx, ex)
}

func (c *Controller) verifyCSRF(_ context.Context, ex *exchange) error {
	state, err := verifyCSRF(ex.request)
	if err != nil {
		return err
	}
	ex.state = state
	return nil
}

func (c *Controller) exchangeCode(ctx context.Context, ex *exchange) error {
	query := ex.request.URL.Query()
	code := query.Get("code")
	if code == "" {
		if providerErr := query.Get("error"); providerErr != "" {
			return fmt.Errorf("authorization denied by provider: %s", providerErr)
		}
		return errors.New("authorization code is missing")
	}

	c.logVerbose("Fetching access token...")
	start := time.Now()
	credential, err := c.provider.ExchangeCode(ctx, ex.redirectURI, code)
	c.metrics.RecordProviderLatency(endpointToken, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to exchange code: %w", err)
	}
	ex.credential = credential
	return nil
}

func (c *Controller) fetchProfile(ctx context.Context, ex *exchange) error {
	c.logVerbose("Fetching user profile...")
	start := time.Now()
	profile, err := c.provider.FetchProfile(ctx, ex.credential.AccessToken)
	c.metrics.RecordProviderLatency(endpointProfile, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to fetch profile: %w", err)
	}
	ex.profile = profile
	return nil
}

func (c *Controller) logIn(ctx context.Context, ex *exchange) error {
	c.logVerbose("Logging in user...",
		slog.String("provider_user_id", ex.profile.ID),
	)
	session, user, err := c.sessions.LogInWithProviderIdentity(ctx, model.ProviderLogin{
		ProviderUserID: ex.profile.ID,
		AccessToken:    ex.credential.AccessToken,
		ExpirationDate: model.FormatExpiration(c.now(), ex.credential.ExpiresIn),
	})
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	if session == nil || user == nil {
		return errors.New("session store returned no session")
	}
	ex.session = session
	ex.user = user
	return nil
}

func (c *Controller) saveUser(ctx context.Context, ex *exchange) error {
	email := ex.profile.Email
	if c.sanitizer != nil {
		var err error
		if email, err = c.sanitizer.SanitizeEmail(email); err != nil {
			return fmt.Errorf("invalid profile email: %w", err)
		}
	}
	ex.user.Name = c.sanitize(ex.profile.Name)
	ex.user.Email = email

	c.logVerbose("Saving user...", slog.String("user_id", ex.user.ID))
	if err := c.sessions.SaveUserFields(ctx, ex.user); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (c *Controller) consumePendingRequest(ctx context.Context, ex *exchange) error {
	pending, err := c.store.FetchPrivileged(ctx, ex.state)
	if err != nil {
		return fmt.Errorf("failed to fetch pending request: %w", err)
	}
	if pending == nil {
		return repository.ErrPendingRequestNotFound
	}

	if err := c.store.Delete(ctx, ex.state); err != nil {
		return fmt.Errorf("failed to delete pending request: %w", err)
	}
	ex.originalURL = pending.OriginalURL
	return nil
}

func (c *Controller) sanitize(s string) string {
	if c.sanitizer == nil {
		return s
	}
	return c.sanitizer.SanitizeText(s)
}

// writeFailure はHandshakeErrorをログ・メトリクスに記録し、JSONエラーを返す。
func (c *Controller) writeFailure(w http.ResponseWriter, hsErr *model.HandshakeError) {
	c.metrics.RecordEndLogin(hsErr.Kind.String())
	if c.config.Verbose {
		c.logger.Warn("login failed",
			slog.String("kind", hsErr.Kind.String()),
			slog.String("step", hsErr.Step),
			slog.String("error", hsErr.Err.Error()),
		)
	}
	middleware.WriteErrorResponse(w, StatusForKind(hsErr.Kind), hsErr.APIError())
}

// StatusForKind はハンドシェイク失敗の分類に対応するHTTPステータスを返す。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindCSRFValidation:
		return http.StatusBadRequest
	case model.KindProviderCommunication:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
