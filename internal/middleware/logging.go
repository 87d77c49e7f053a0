package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// accessLog は1リクエスト分のアクセスログ項目。
// ハンドシェイクは内側のハンドラーでユーザーIDを確定させるため、ポインタで共有する。
type accessLog struct {
	userID string
}

var accessLogContextKey = contextKey("access_log")

// responseRecorder は書き込まれたステータスコードを保持する。
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}

// statusOrOK は何も書き込まれなかった場合に200を返す。
func (rr *responseRecorder) statusOrOK() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// ClientIP はリクエスト元のIPアドレスを返す。
// RemoteAddrにポートが含まれない場合はそのまま返す。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewLoggingMiddleware はアクセスログを1リクエスト1行のJSONで出力するミドルウェアを返す。
// コールバックのクエリにはcodeとstateが含まれるため、クエリ文字列は記録しない。
// リダイレクト時は遷移先のホストのみを記録する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &accessLog{}
			if userID, err := UserIDFromContext(r.Context()); err == nil {
				entry.userID = userID
			}
			rec := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessLogContextKey, entry)))

			status := rec.statusOrOK()
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.String("client_ip", ClientIP(r)),
			}
			if entry.userID != "" {
				args = append(args, slog.String("user_id", entry.userID))
			}
			if host := redirectHost(rec.Header().Get("Location")); host != "" {
				args = append(args, slog.String("redirect_host", host))
			}

			logger.Log(r.Context(), levelForStatus(status), "http_request", args...)
		})
	}
}

// recordUserID はアクセスログにユーザーIDを記録する。ログミドルウェアの外側では何もしない。
func recordUserID(ctx context.Context, userID string) {
	if entry, ok := ctx.Value(accessLogContextKey).(*accessLog); ok {
		entry.userID = userID
	}
}

func redirectHost(location string) string {
	if location == "" {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Host
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
