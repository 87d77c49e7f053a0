package handshake

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

var (
	errMissingState  = errors.New("state parameter is missing")
	errMissingCookie = errors.New("requestId cookie is missing")
	errStateMismatch = errors.New("state parameter does not match requestId cookie")
)

// verifyCSRF はコールバックのstateパラメータとrequestId Cookieが一致することを検証し、
// 一致した値を返す。どちらかが空の場合も失敗とする。
func verifyCSRF(r *http.Request) (string, error) {
	state := r.URL.Query().Get("state")
	if state == "" {
		return "", errMissingState
	}

	cookie, err := r.Cookie(RequestIDCookieName)
	if err != nil || cookie.Value == "" {
		return "", errMissingCookie
	}

	if subtle.ConstantTimeCompare([]byte(state), []byte(cookie.Value)) != 1 {
		return "", errStateMismatch
	}
	return state, nil
}
