package handshake

import (
	"net/http"
	"time"

	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
)

// originalRequestURL はログインを開始したリクエストの絶対URLを返す。
// スキームは常にhttps。クエリ文字列は保持する。
func originalRequestURL(r *http.Request) string {
	return "https://" + r.Host + r.URL.RequestURI()
}

// callbackURL はIdPに渡すredirect_uriを返す。
func callbackURL(r *http.Request, callbackPath string) string {
	return "https://" + r.Host + callbackPath
}

func (c *Controller) setRequestIDCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RequestIDCookieName,
		Value:    id,
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   int(c.config.PendingRequestTTL / time.Second),
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Controller) clearRequestIDCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RequestIDCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setSessionCookie はセッションCookieを設定する。有効期間はセッションの期限までの秒数。
func (c *Controller) setSessionCookie(w http.ResponseWriter, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   c.config.CookieDomain,
		MaxAge:   session.MaxAge(c.now()),
		HttpOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
