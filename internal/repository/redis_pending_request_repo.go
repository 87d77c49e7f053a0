package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/oauthgate/internal/model"
)

// pendingRequestKeyPrefix はRedis上のPendingRequestキーの接頭辞。
const pendingRequestKeyPrefix = "oauthgate:pending:"

// RedisPendingRequestRepo はRedisを使用したPendingRequestリポジトリ。
// 有効期限はキーのTTLで管理するため、クリーンアップワーカーは不要。
type RedisPendingRequestRepo struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisPendingRequestRepo はRedisPendingRequestRepoを生成する。
// ttlが0以下の場合はDefaultPendingRequestTTLを使用する。
func NewRedisPendingRequestRepo(client redis.Cmdable, ttl time.Duration) *RedisPendingRequestRepo {
	if ttl <= 0 {
		ttl = DefaultPendingRequestTTL
	}
	return &RedisPendingRequestRepo{client: client, ttl: ttl, now: time.Now}
}

// redisPendingRequest はRedisに保存するJSON表現。
type redisPendingRequest struct {
	ID          string    `json:"id"`
	OriginalURL string    `json:"original_url"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func pendingRequestKey(id string) string {
	return pendingRequestKeyPrefix + id
}

// Create は新しいPendingRequestをTTL付きで保存する。
func (r *RedisPendingRequestRepo) Create(ctx context.Context, originalURL string) (*model.PendingRequest, error) {
	req, err := newPendingRequest(originalURL, r.now(), r.ttl)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(redisPendingRequest{
		ID:          req.ID,
		OriginalURL: req.OriginalURL,
		CreatedAt:   req.CreatedAt,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pending request: %w", err)
	}

	ok, err := r.client.SetNX(ctx, pendingRequestKey(req.ID), data, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create pending request: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("pending request id collision: %s", req.ID)
	}
	return req, nil
}

// FetchPrivileged はIDでPendingRequestを取得する。
// キーが存在しない、または期限切れの場合はnilを返す。
func (r *RedisPendingRequestRepo) FetchPrivileged(ctx context.Context, id string) (*model.PendingRequest, error) {
	data, err := r.client.Get(ctx, pendingRequestKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending request: %w", err)
	}

	var stored redisPendingRequest
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending request: %w", err)
	}

	req := &model.PendingRequest{
		ID:          stored.ID,
		OriginalURL: stored.OriginalURL,
		CreatedAt:   stored.CreatedAt,
		ExpiresAt:   stored.ExpiresAt,
	}
	if req.IsExpired(r.now()) {
		return nil, nil
	}
	return req, nil
}

// Delete はPendingRequestのキーを削除する。
// DELは削除したキー数を返すため、並行した消費のうち成功するのは1つだけとなる。
func (r *RedisPendingRequestRepo) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, pendingRequestKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete pending request: %w", err)
	}
	if n == 0 {
		return ErrPendingRequestNotFound
	}
	return nil
}

// compile-time interface check
var _ PendingRequestRepository = (*RedisPendingRequestRepo)(nil)
