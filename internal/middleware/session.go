// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/oauthgate/internal/model"
)

// SessionCookieName はアプリケーションセッションのCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// CookieSessionChecker はHTTP Only Cookieのセッショントークンから現在のセッションを判定する。
type CookieSessionChecker struct {
	finder SessionFinder
	now    func() time.Time
}

// NewCookieSessionChecker はCookieSessionCheckerを生成する。
func NewCookieSessionChecker(finder SessionFinder) *CookieSessionChecker {
	return &CookieSessionChecker{finder: finder, now: time.Now}
}

// CurrentSession はリクエストに有効なセッションがあればそれを返す。
// Cookieがない、またはセッションが存在しない・期限切れの場合はnilを返す。
func (c *CookieSessionChecker) CurrentSession(r *http.Request) (*model.Session, error) {
	sessionID := SessionIDFromRequest(r)
	if sessionID == "" {
		return nil, nil
	}

	session, err := c.finder.FindByID(r.Context(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.IsExpired(c.now()) {
		return nil, nil
	}
	return session, nil
}

// SessionIDFromRequest はセッションCookieの値を返す。Cookieがない場合は空文字を返す。
func SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// アクセスログミドルウェアの内側で呼ばれた場合はログにもユーザーIDを記録する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	recordUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}
