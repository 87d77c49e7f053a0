package handshake

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
)

// SessionChecker はリクエストに有効なアプリケーションセッションがあるかを判定する。
// セッションがない場合はnil, nilを返す。
type SessionChecker interface {
	CurrentSession(r *http.Request) (*model.Session, error)
}

// NewSessionMiddleware はログインハンドシェイクのルーティングを行うミドルウェアを返す。
//   - セッションあり: ユーザーIDをコンテキストに注入してnextへ渡す。
//     それ以外のリクエスト（メソッド・URL・ヘッダー・ボディ）は変更しない
//   - コールバックパス: EndLogin
//   - それ以外: BeginLogin（beginGuardsで包む）
func NewSessionMiddleware(
	checker SessionChecker,
	controller *Controller,
	logger *slog.Logger,
	beginGuards ...func(http.Handler) http.Handler,
) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	var begin http.Handler = http.HandlerFunc(controller.BeginLogin)
	for i := len(beginGuards) - 1; i >= 0; i-- {
		begin = beginGuards[i](begin)
	}
	end := http.HandlerFunc(controller.EndLogin)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := checker.CurrentSession(r)
			if err != nil {
				logger.Warn("session check failed",
					slog.String("error", err.Error()),
				)
				session = nil
			}

			if session != nil {
				ctx := middleware.ContextWithUserID(r.Context(), session.UserID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if r.URL.Path == controller.CallbackPath() {
				end.ServeHTTP(w, r)
				return
			}
			begin.ServeHTTP(w, r)
		})
	}
}
