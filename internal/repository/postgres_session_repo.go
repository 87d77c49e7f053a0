package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/oauthgate/internal/model"
)

// PostgresSessionRepo はsessionsテーブルを扱う。
// 期限切れの行はFindByIDから見えず、クリーンアップワーカーが物理削除する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はハンドシェイク成功時に発行したセッションを保存する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.CreatedAt, session.ExpiresAt,
	); err != nil {
		return fmt.Errorf("failed to create session for user %s: %w", session.UserID, err)
	}
	return nil
}

// FindByID は有効なセッションを返す。存在しないか期限切れの場合はnil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &s, nil
}

// DeleteByID はログアウト時にセッションを削除する。存在しなくてもエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return deleteExpiredRows(ctx, r.db, "sessions")
}

var (
	_ SessionRepository = (*PostgresSessionRepo)(nil)
	_ ExpiredPurger     = (*PostgresSessionRepo)(nil)
)
