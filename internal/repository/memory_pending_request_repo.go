package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hitoshi/oauthgate/internal/model"
)

// MemoryPendingRequestRepo はプロセス内メモリを使用したPendingRequestリポジトリ。
// 単一ノードでの開発・検証用途。期限切れの項目はgo-cacheのjanitorが削除する。
type MemoryPendingRequestRepo struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryPendingRequestRepo はMemoryPendingRequestRepoを生成する。
// cleanupIntervalはjanitorの実行間隔で、0以下の場合はjanitorを起動しない。
// 期限切れの項目はjanitorだけが削除するため、常駐させる場合は正の値を渡すこと。
func NewMemoryPendingRequestRepo(ttl, cleanupInterval time.Duration) *MemoryPendingRequestRepo {
	if ttl <= 0 {
		ttl = DefaultPendingRequestTTL
	}
	return &MemoryPendingRequestRepo{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Create は新しいPendingRequestを保存する。
func (r *MemoryPendingRequestRepo) Create(_ context.Context, originalURL string) (*model.PendingRequest, error) {
	req, err := newPendingRequest(originalURL, r.now(), r.ttl)
	if err != nil {
		return nil, err
	}

	stored := *req
	if err := r.cache.Add(req.ID, &stored, r.ttl); err != nil {
		return nil, fmt.Errorf("failed to create pending request: %w", err)
	}
	return req, nil
}

// FetchPrivileged はIDでPendingRequestを取得する。
// 存在しない、または期限切れの場合はnilを返す。
func (r *MemoryPendingRequestRepo) FetchPrivileged(_ context.Context, id string) (*model.PendingRequest, error) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, nil
	}
	stored := v.(*model.PendingRequest)
	if stored.IsExpired(r.now()) {
		return nil, nil
	}
	req := *stored
	return &req, nil
}

// Delete はPendingRequestを削除する。
// 存在確認と削除をロック下で行い、並行した消費のうち成功するのは1つだけとなる。
func (r *MemoryPendingRequestRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache.Get(id); !ok {
		return ErrPendingRequestNotFound
	}
	r.cache.Delete(id)
	return nil
}

// compile-time interface check
var _ PendingRequestRepository = (*MemoryPendingRequestRepo)(nil)
