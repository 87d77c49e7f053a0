package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
)

// healthCheckTimeout はヘルスチェック時の依存先確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存先（DB）の疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Health はヘルスチェックハンドラーを返す。
// GET /health
func Health(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewInternalError())
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
