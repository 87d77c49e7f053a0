package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/oauthgate/internal/model"
)

// PostgresUserRepo はusersテーブルを扱う。identitiesへの初回登録も同じトランザクションで行う。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", id, err)
	}
	return &u, nil
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
// 同じIdPユーザーが並行して初回ログインし、先に登録された場合はErrIdentityTakenを返す。
// その場合ユーザーは作成されない。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Name, user.Email, user.CreatedAt, user.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, access_token, token_expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (provider, provider_user_id) DO NOTHING`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID,
		identity.AccessToken, nullTime(identity.TokenExpiresAt), identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return ErrIdentityTaken
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateProfile はIdPから取得した名前とメールアドレスを保存する。
// ユーザーが存在しない場合はErrUserNotFoundを返す。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	var id string
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET name = $2, email = $3, updated_at = $4 WHERE id = $1 RETURNING id`,
		user.ID, user.Name, user.Email, user.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}

var _ UserRepository = (*PostgresUserRepo)(nil)
