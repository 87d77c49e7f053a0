// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
	Logout(ctx context.Context, sessionID string) error
}

// AccountHandlerConfig はアカウントハンドラーの設定。
type AccountHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AccountHandler はログイン済みユーザー向けのHTTPハンドラー。
// ハンドシェイクミドルウェアの内側に配置する。
type AccountHandler struct {
	service AccountServiceInterface
	config  AccountHandlerConfig
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, config AccountHandlerConfig) *AccountHandler {
	return &AccountHandler{
		service: service,
		config:  config,
	}
}

// userResponse は現在のユーザー情報のレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Me は現在のログインユーザー情報を返す。
// GET /me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromRequest(r)
	if sessionID == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, userResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
	})
}

// Logout はセッションを破棄し、セッションCookieをクリアする。
// POST /logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Home はログイン済みユーザーへの挨拶を返す。
// GET /
func (h *AccountHandler) Home(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "logged in",
		"user_id": userID,
	})
}

// NotFound は未定義パスに対する404レスポンスを返す。
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError(r.URL.Path))
}

// MethodNotAllowed はルートは存在するがメソッドが一致しない場合の405レスポンスを返す。
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, model.NewMethodNotAllowedError(r.Method))
}
