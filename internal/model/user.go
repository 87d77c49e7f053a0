// Package model はハンドシェイクとセッションのドメインモデルを定義する。
package model

import "time"

// User はIdPでログインしたローカルユーザー。
// NameとEmailはログインのたびにIdPのプロフィールで上書きされる。
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はローカルユーザーとIdP上のユーザーIDの対応。
// 最後のログインで受け取ったアクセストークンと有効期限を保持する。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	AccessToken    string
	TokenExpiresAt time.Time
	CreatedAt      time.Time
}

// Session はローカルのログインセッション。IDはsession_id Cookieの値。
// ExpiresAtはIdPのアクセストークンの有効期限と一致する。
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// MaxAge は期限までの残り秒数を返す。期限切れの場合は0。
func (s *Session) MaxAge(now time.Time) int {
	remaining := int(s.ExpiresAt.Sub(now) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}
