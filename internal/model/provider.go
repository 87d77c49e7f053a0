package model

import (
	"fmt"
	"time"
)

// ExpirationLayout はセッション有効期限のシリアライズ形式。
// 常にUTCで、ミリ秒精度と末尾のZを持つ。
const ExpirationLayout = "2006-01-02T15:04:05.000Z"

// ProviderCredential はトークンエンドポイントから取得した一時的な認証情報。
// リクエストの処理中のみ使用し、永続化しない。
type ProviderCredential struct {
	AccessToken string
	ExpiresIn   int // 有効期間（秒）
}

// ProviderProfile はプロフィールエンドポイントから取得した外部IdPのユーザー情報。
type ProviderProfile struct {
	ID    string
	Name  string
	Email string
}

// ProviderLogin はIdPの識別情報でローカルセッションを確立するための入力。
type ProviderLogin struct {
	ProviderUserID string
	AccessToken    string
	ExpirationDate string // ExpirationLayout形式
}

// FormatExpiration はnowからexpiresIn秒後の時刻をExpirationLayout形式で返す。
func FormatExpiration(now time.Time, expiresIn int) string {
	return now.Add(time.Duration(expiresIn) * time.Second).UTC().Format(ExpirationLayout)
}

// ParseExpiration はExpirationLayout形式の文字列をUTCの時刻に変換する。
func ParseExpiration(s string) (time.Time, error) {
	t, err := time.ParseInLocation(ExpirationLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiration date %q: %w", s, err)
	}
	return t, nil
}
