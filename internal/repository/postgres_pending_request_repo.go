package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/oauthgate/internal/model"
)

// PostgresPendingRequestRepo はPostgreSQLを使用したPendingRequestリポジトリ。
// 期限切れの行はFetchPrivilegedから不可視となり、クリーンアップワーカーが物理削除する。
type PostgresPendingRequestRepo struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewPostgresPendingRequestRepo はPostgresPendingRequestRepoを生成する。
// ttlが0以下の場合はDefaultPendingRequestTTLを使用する。
func NewPostgresPendingRequestRepo(db *sql.DB, ttl time.Duration) *PostgresPendingRequestRepo {
	if ttl <= 0 {
		ttl = DefaultPendingRequestTTL
	}
	return &PostgresPendingRequestRepo{db: db, ttl: ttl, now: time.Now}
}

// Create は新しいPendingRequestを保存する。
func (r *PostgresPendingRequestRepo) Create(ctx context.Context, originalURL string) (*model.PendingRequest, error) {
	req, err := newPendingRequest(originalURL, r.now(), r.ttl)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pending_requests (id, original_url, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		req.ID, req.OriginalURL, req.CreatedAt, req.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending request: %w", err)
	}
	return req, nil
}

// FetchPrivileged はIDでPendingRequestを取得する。
// 存在しない、または期限切れの場合はnilを返す。
func (r *PostgresPendingRequestRepo) FetchPrivileged(ctx context.Context, id string) (*model.PendingRequest, error) {
	req := &model.PendingRequest{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, original_url, created_at, expires_at
		 FROM pending_requests
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&req.ID, &req.OriginalURL, &req.CreatedAt, &req.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending request: %w", err)
	}
	return req, nil
}

// Delete はPendingRequestを削除する。
// 行が存在しない場合はErrPendingRequestNotFoundを返すため、
// 同一IDに対する並行した消費のうち成功するのは1つだけとなる。
func (r *PostgresPendingRequestRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_requests WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete pending request: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPendingRequestNotFound
	}
	return nil
}

// DeleteExpired は期限切れのPendingRequestを削除し、削除件数を返す。
func (r *PostgresPendingRequestRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return deleteExpiredRows(ctx, r.db, "pending_requests")
}

// compile-time interface check
var (
	_ PendingRequestRepository = (*PostgresPendingRequestRepo)(nil)
	_ ExpiredPurger            = (*PostgresPendingRequestRepo)(nil)
)
