// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/oauthgate/internal/model"
)

// ErrPendingRequestNotFound は削除対象のPendingRequestが存在しないことを示す。
// 既に消費済み、または期限切れで削除された場合に返る。
var ErrPendingRequestNotFound = errors.New("pending request not found")

// ErrIdentityTaken はIdPユーザーが既に別のトランザクションで登録済みであることを示す。
// 同じユーザーの初回ログインが並行した場合に起こる。
var ErrIdentityTaken = errors.New("identity already linked to a user")

// ErrUserNotFound は更新対象のユーザーが存在しないことを示す。
var ErrUserNotFound = errors.New("user not found")

// ErrIdentityNotFound は更新対象のidentityが存在しないことを示す。
var ErrIdentityNotFound = errors.New("identity not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// identityが登録済みの場合はErrIdentityTakenを返し、何も作成しない。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はユーザーの名前とメールアドレスを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// UpdateToken はログイン時に受け取ったアクセストークンと有効期限を記録する。
	UpdateToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// PendingRequestRepository は進行中のログイン試行（PendingRequest）の永続化インターフェース。
// 実装は並行アクセスに対して安全でなければならない。
type PendingRequestRepository interface {
	// Create は新しいPendingRequestを保存し、生成したIDを含むレコードを返す。
	Create(ctx context.Context, originalURL string) (*model.PendingRequest, error)

	// FetchPrivileged はIDでPendingRequestを取得する。
	// 存在しない、または期限切れの場合はnilを返す。
	FetchPrivileged(ctx context.Context, id string) (*model.PendingRequest, error)

	// Delete はPendingRequestを削除する。
	// 削除対象が存在しない場合はErrPendingRequestNotFoundを返す。
	Delete(ctx context.Context, id string) error
}

// ExpiredPurger は期限切れレコードを物理削除するインターフェース。
// クリーンアップワーカーから定期的に呼び出される。
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
