package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/oauthgate/internal/model"
)

const selectIdentityColumns = `SELECT id, user_id, provider, provider_user_id, access_token, token_expires_at, created_at FROM identities`

// PostgresIdentityRepo はidentitiesテーブルへのアクセスを担う。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はIdPのユーザーIDに紐づくidentityを返す。未登録ならnil。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		selectIdentityColumns+` WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity %s/%s: %w", provider, providerUserID, err)
	}
	return identity, nil
}

// UpdateToken はidentityのアクセストークンと有効期限を上書きする。
func (r *PostgresIdentityRepo) UpdateToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	var updated string
	err := r.db.QueryRowContext(ctx,
		`UPDATE identities SET access_token = $2, token_expires_at = $3 WHERE id = $1 RETURNING id`,
		id, accessToken, nullTime(expiresAt),
	).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrIdentityNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update identity token: %w", err)
	}
	return nil
}

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	var (
		identity  model.Identity
		expiresAt sql.NullTime
	)
	if err := row.Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID,
		&identity.AccessToken, &expiresAt, &identity.CreatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		identity.TokenExpiresAt = expiresAt.Time
	}
	return &identity, nil
}

// nullTime はゼロ値の時刻をNULLとして扱う。
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
