// Package auth はアカウント登録、メールアドレス確認、パスワード再設定、
// パスワード認証とセッション管理を提供する。
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

	"github.com/hitoshi/picshub/internal/metrics"
	"github.com/hitoshi/picshub/internal/model"
	"github.com/hitoshi/picshub/internal/notify"
	"github.com/hitoshi/picshub/internal/password"
	"github.com/hitoshi/picshub/internal/repository"
	"github.com/hitoshi/picshub/internal/security"
	"github.com/hitoshi/picshub/internal/token"
)

// TokenIssuer はワンタイムトークンの発行・解決・消費のインターフェース。
// token.Issuerが実装する。
type TokenIssuer interface {
	Issue(ctx context.Context, userID model.UserID, purpose model.TokenPurpose) (string, error)
	Resolve(ctx context.Context, secret string, purpose model.TokenPurpose) (model.UserID, error)
	Consume(ctx context.Context, secret string, purpose model.TokenPurpose) (model.UserID, error)
}

var _ TokenIssuer = (*token.Issuer)(nil)

// 認証イベント名（メトリクスのeventラベル）。
const (
	eventRegister = "register"
	eventConfirm  = "confirm"
	eventResend   = "resend"
	eventForgot   = "forgot"
	eventReset    = "reset"
	eventLogin    = "login"
	eventLogout   = "logout"
)

const defaultSessionMaxAge = 86400

// ConfirmResult はメールアドレス確認の結果。
type ConfirmResult int

const (
	// ConfirmVerified は今回の操作で確認済みになったことを表す。
	ConfirmVerified ConfirmResult = iota
	// ConfirmAlreadyVerified は既に確認済みで何もしなかったことを表す。
	ConfirmAlreadyVerified
)

// ResendResult は確認メール再送の結果。
type ResendResult int

const (
	// ResendSent は新しいトークンを発行して送信を依頼したことを表す。
	ResendSent ResendResult = iota
	// ResendAlreadyVerified は既に確認済みのため送信しなかったことを表す。
	ResendAlreadyVerified
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Deps は認証サービスの依存関係。
type Deps struct {
	Users     repository.UserRepository
	Sessions  repository.SessionRepository
	Hasher    password.Hasher
	Tokens    TokenIssuer
	Notifier  notify.Notifier
	Composer  *notify.Composer
	Sanitizer security.ContentSanitizerService
	Metrics   metrics.MetricsCollector
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	hasher    password.Hasher
	tokens    TokenIssuer
	notifier  notify.Notifier
	composer  *notify.Composer
	sanitizer security.ContentSanitizerService
	metrics   metrics.MetricsCollector
	strategy  *Strategy
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
// 認証ストラテジーはここで1度だけ生成される。
func NewService(deps Deps, config ServiceConfig) *Service {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = defaultSessionMaxAge
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	return &Service{
		users:     deps.Users,
		sessions:  deps.Sessions,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		notifier:  deps.Notifier,
		composer:  deps.Composer,
		sanitizer: deps.Sanitizer,
		metrics:   deps.Metrics,
		strategy:  NewStrategy(deps.Users, deps.Hasher),
		config:    config,
		now:       time.Now,
	}
}

// Strategy はサービスが使用する認証ストラテジーを返す。
func (s *Service) Strategy() *Strategy {
	return s.strategy
}

// Register は新規ユーザーを未確認状態で作成し、確認メールの送信を依頼する。
// 入力違反はすべてまとめてVALIDATION_FAILEDとして返す。
// 通知の失敗は登録結果に影響しない。
func (s *Service) Register(ctx context.Context, in RegistrationInput) (*model.User, error) {
	if err := ValidateRegistration(in); err != nil {
		s.metrics.RecordAuthEvent(eventRegister, metrics.OutcomeRefused)
		return nil, err
	}
	in = in.Normalize()

	existing, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		s.metrics.RecordAuthEvent(eventRegister, metrics.OutcomeRefused)
		return nil, model.NewDuplicateEmailError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           model.UserID(uuid.New().String()),
		Name:         s.sanitize(in.Name),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsVerified:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			s.metrics.RecordAuthEvent(eventRegister, metrics.OutcomeRefused)
			return nil, model.NewDuplicateEmailError()
		case errors.Is(err, repository.ErrDuplicateUsername):
			s.metrics.RecordAuthEvent(eventRegister, metrics.OutcomeRefused)
			return nil, model.NewDuplicateUsernameError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	secret, err := s.issue(ctx, user.ID, model.TokenPurposeVerification)
	if err != nil {
		return nil, err
	}
	s.send(ctx, s.composer.Verification(user.Email, user.Name, secret))

	s.metrics.RecordAuthEvent(eventRegister, metrics.OutcomeSuccess)
	slog.Info("user registered",
		slog.String("user_id", user.ID.String()),
	)
	return user.Snapshot(), nil
}

// Confirm は確認トークンを検証し、ユーザーを確認済みにする。
//
// トークンが存在しない場合はINVALID_OR_USED_TOKEN、ユーザーが存在しない場合はORPHANED_TOKENを返す。
// 既に確認済みのユーザーの場合はトークンを消費せずConfirmAlreadyVerifiedを返す。
func (s *Service) Confirm(ctx context.Context, secret string) (ConfirmResult, error) {
	userID, err := s.tokens.Resolve(ctx, secret, model.TokenPurposeVerification)
	if errors.Is(err, token.ErrNotFound) {
		s.metrics.RecordAuthEvent(eventConfirm, metrics.OutcomeFailure)
		return 0, model.NewInvalidOrUsedTokenError()
	}
	if err != nil {
		return 0, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordAuthEvent(eventConfirm, metrics.OutcomeFailure)
		return 0, model.NewOrphanedTokenError()
	}
	if user.IsVerified {
		return ConfirmAlreadyVerified, nil
	}

	// 同一トークンの同時確認では消費に成功した1件だけが先へ進む
	if _, err := s.tokens.Consume(ctx, secret, model.TokenPurposeVerification); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			s.metrics.RecordAuthEvent(eventConfirm, metrics.OutcomeFailure)
			return 0, model.NewInvalidOrUsedTokenError()
		}
		return 0, err
	}
	s.metrics.RecordTokenConsumed(string(model.TokenPurposeVerification))

	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return 0, fmt.Errorf("failed to mark user verified: %w", err)
	}

	s.metrics.RecordAuthEvent(eventConfirm, metrics.OutcomeSuccess)
	slog.Info("user verified", slog.String("user_id", user.ID.String()))
	return ConfirmVerified, nil
}

// ResendVerification は未確認ユーザーに新しい確認トークンを発行して再送を依頼する。
// 以前に発行した未使用トークンは無効化しない。
func (s *Service) ResendVerification(ctx context.Context, email string) (ResendResult, error) {
	user, err := s.findByEmailForMail(ctx, email)
	if err != nil {
		s.metrics.RecordAuthEvent(eventResend, metrics.OutcomeRefused)
		return 0, err
	}
	if user.IsVerified {
		return ResendAlreadyVerified, nil
	}

	secret, err := s.issue(ctx, user.ID, model.TokenPurposeVerification)
	if err != nil {
		return 0, err
	}
	s.send(ctx, s.composer.ResendVerification(user.Email, user.Name, secret))

	s.metrics.RecordAuthEvent(eventResend, metrics.OutcomeSuccess)
	return ResendSent, nil
}

// RequestPasswordReset はパスワード再設定トークンを発行して再設定メールの送信を依頼する。
// 確認済みかどうかに関係なく発行する。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.findByEmailForMail(ctx, email)
	if err != nil {
		s.metrics.RecordAuthEvent(eventForgot, metrics.OutcomeRefused)
		return err
	}

	secret, err := s.issue(ctx, user.ID, model.TokenPurposePasswordReset)
	if err != nil {
		return err
	}
	s.send(ctx, s.composer.PasswordReset(user.Email, user.Name, secret))

	s.metrics.RecordAuthEvent(eventForgot, metrics.OutcomeSuccess)
	return nil
}

// CheckResetToken は再設定トークンが有効で、対応するユーザーが存在するかを確認する。
// トークンは消費しない。
func (s *Service) CheckResetToken(ctx context.Context, secret string) error {
	userID, err := s.tokens.Resolve(ctx, secret, model.TokenPurposePasswordReset)
	if errors.Is(err, token.ErrNotFound) {
		return model.NewInvalidOrUsedTokenError()
	}
	if err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewOrphanedTokenError()
	}
	return nil
}

// CompletePasswordReset はトークンを消費して新しいパスワードを設定し、変更完了の通知を依頼する。
//
// ハッシュ化に失敗してもトークンが失われないよう、ハッシュ化を消費より先に行う。
// 同一トークンでの同時実行では1件だけが成功し、残りはINVALID_OR_USED_TOKENとなる。
// 変更後はそのユーザーの既存セッションをすべて破棄する。
func (s *Service) CompletePasswordReset(ctx context.Context, secret, newPassword, confirm string) error {
	if err := ValidatePasswordChange(newPassword, confirm); err != nil {
		s.metrics.RecordAuthEvent(eventReset, metrics.OutcomeRefused)
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	userID, err := s.tokens.Consume(ctx, secret, model.TokenPurposePasswordReset)
	if errors.Is(err, token.ErrNotFound) {
		s.metrics.RecordAuthEvent(eventReset, metrics.OutcomeFailure)
		return model.NewInvalidOrUsedTokenError()
	}
	if err != nil {
		return err
	}
	s.metrics.RecordTokenConsumed(string(model.TokenPurposePasswordReset))

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordAuthEvent(eventReset, metrics.OutcomeFailure)
		return model.NewOrphanedTokenError()
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.sessions.DeleteByUserID(ctx, user.ID); err != nil {
		slog.Warn("failed to revoke sessions after password reset",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.send(ctx, s.composer.PasswordChanged(user.Email, user.Name))

	s.metrics.RecordAuthEvent(eventReset, metrics.OutcomeSuccess)
	slog.Info("password reset completed", slog.String("user_id", user.ID.String()))
	return nil
}

// Login は認証ストラテジーで資格情報を検証し、セッションを発行する。
func (s *Service) Login(ctx context.Context, identifier, plain string) (*model.Session, *model.User, error) {
	user, err := s.strategy.Authenticate(ctx, identifier, plain)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.metrics.RecordAuthEvent(eventLogin, metrics.OutcomeFailure)
		}
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordAuthEvent(eventLogin, metrics.OutcomeSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID.String()))
	return session, user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.metrics.RecordAuthEvent(eventLogout, metrics.OutcomeSuccess)
	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はユーザーIDから現在のユーザーのスナップショットを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID model.UserID) (*model.User, error) {
	if userID.IsZero() {
		return nil, model.NewUserNotFoundError()
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user.Snapshot(), nil
}

// findByEmailForMail はメール送信系フローのためにユーザーを検索する。
// 形式不正はVALIDATION_FAILED、未登録はEMAIL_NOT_REGISTEREDを返す。
func (s *Service) findByEmailForMail(ctx context.Context, email string) (*model.User, error) {
	email = NormalizeEmail(email)
	if !IsEmail(email) {
		return nil, model.NewValidationError([]string{validationMessages["Email.email"]})
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewEmailNotRegisteredError()
	}
	return user, nil
}

func (s *Service) issue(ctx context.Context, userID model.UserID, purpose model.TokenPurpose) (string, error) {
	secret, err := s.tokens.Issue(ctx, userID, purpose)
	if err != nil {
		return "", fmt.Errorf("failed to issue %s token: %w", purpose, err)
	}
	s.metrics.RecordTokenIssued(string(purpose))
	return secret, nil
}

// send は通知の送信を依頼する。失敗はログに記録するだけで呼び出し元には返さない。
func (s *Service) send(ctx context.Context, msg notify.Message) {
	if err := s.notifier.Send(ctx, msg); err != nil {
		slog.Error("failed to enqueue notification",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) sanitize(v string) string {
	if s.sanitizer == nil {
		return v
	}
	return s.sanitizer.Sanitize(v)
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID model.UserID) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
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
