package model

import "time"

// PendingRequest は進行中のログイン試行1件を表す。
// IDはCSRFトークンを兼ね、BeginLoginで作成されEndLoginの成功時に1回だけ消費される。
type PendingRequest struct {
	ID          string
	OriginalURL string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired は指定時刻においてPendingRequestが期限切れかどうかを返す。
func (p *PendingRequest) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
