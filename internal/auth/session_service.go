// Package auth はIdPとの通信と、IdPの識別情報に基づくローカルセッションの管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/repository"
)

// SessionService はIdPの識別情報とローカルユーザーを紐付け、セッションを発行する。
type SessionService struct {
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	provider    string
	logger      *slog.Logger
	now         func() time.Time
}

// NewSessionService はSessionServiceを生成する。
func NewSessionService(
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	logger *slog.Logger,
) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		provider:    ProviderName,
		logger:      logger,
		now:         time.Now,
	}
}

// LogInWithProviderIdentity はIdPのユーザーIDでログインし、セッションとユーザーを返す。
// 未登録の場合はusersレコードとidentitiesレコードを同時に作成する。
// 登録済みの場合はidentityのアクセストークンと有効期限を更新する。
// セッションの有効期限はExpirationDateと一致する。
func (s *SessionService) LogInWithProviderIdentity(ctx context.Context, login model.ProviderLogin) (*model.Session, *model.User, error) {
	if login.ProviderUserID == "" {
		return nil, nil, fmt.Errorf("provider user ID is required")
	}

	expiresAt, err := model.ParseExpiration(login.ExpirationDate)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	if !expiresAt.After(now) {
		return nil, nil, fmt.Errorf("expiration date %s is not in the future", login.ExpirationDate)
	}

	user, err := s.resolveUser(ctx, login, expiresAt, now)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID, now, expiresAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, user, nil
}

// resolveUser はIdPのユーザーIDに対応するローカルユーザーを返す。
// 未登録なら作成し、登録済みならidentityのトークンを更新する。
func (s *SessionService) resolveUser(ctx context.Context, login model.ProviderLogin, expiresAt, now time.Time) (*model.User, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, s.provider, login.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity == nil {
		user, err := s.createUser(ctx, login, expiresAt, now)
		if !errors.Is(err, repository.ErrIdentityTaken) {
			return user, err
		}
		// 同じIdPユーザーの並行ログインが先に登録した
		identity, err = s.identRepo.FindByProviderAndProviderUserID(ctx, s.provider, login.ProviderUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find identity: %w", err)
		}
		if identity == nil {
			return nil, fmt.Errorf("identity for %s vanished after conflict", login.ProviderUserID)
		}
	}

	if err := s.identRepo.UpdateToken(ctx, identity.ID, login.AccessToken, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to update identity token: %w", err)
	}
	user, err := s.userRepo.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found for identity %s", identity.ID)
	}
	s.logger.Info("existing user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", s.provider),
	)
	return user, nil
}

func (s *SessionService) createUser(ctx context.Context, login model.ProviderLogin, expiresAt, now time.Time) (*model.User, error) {
	user := &model.User{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       s.provider,
		ProviderUserID: login.ProviderUserID,
		AccessToken:    login.AccessToken,
		TokenExpiresAt: expiresAt,
		CreatedAt:      now,
	}
	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		if errors.Is(err, repository.ErrIdentityTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}
	s.logger.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", s.provider),
	)
	return user, nil
}

// SaveUserFields はユーザーの名前とメールアドレスを永続化する。
func (s *SessionService) SaveUserFields(ctx context.Context, user *model.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user ID is required")
	}
	user.UpdatedAt = s.now()
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Logout はセッションを破棄する。
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *SessionService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *SessionService) createSession(ctx context.Context, userID string, now, expiresAt time.Time) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
