package repository

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hitoshi/oauthgate/internal/model"
)

// DefaultPendingRequestTTL はPendingRequestの既定の有効期間。
const DefaultPendingRequestTTL = 10 * time.Minute

// pendingRequestIDBytes はPendingRequest IDの乱数バイト数。
const pendingRequestIDBytes = 32

// newPendingRequestID は暗号論的乱数から推測不能なIDを生成する。
// IDはCSRFトークンを兼ねる。
func newPendingRequestID() (string, error) {
	b := make([]byte, pendingRequestIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate pending request id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// newPendingRequest はIDと有効期限を設定したPendingRequestを生成する。
func newPendingRequest(originalURL string, now time.Time, ttl time.Duration) (*model.PendingRequest, error) {
	id, err := newPendingRequestID()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultPendingRequestTTL
	}
	return &model.PendingRequest{
		ID:          id,
		OriginalURL: originalURL,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}
