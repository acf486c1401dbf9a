package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/picshub/internal/model"
	"github.com/hitoshi/picshub/internal/password"
	"github.com/hitoshi/picshub/internal/repository"
)

// Strategy はユーザー名またはメールアドレスとパスワードによる認証を行う。
// プロセス起動時に1つだけ生成し、必要な箇所へ注入する。
type Strategy struct {
	users  repository.UserRepository
	hasher password.Hasher
}

// NewStrategy はStrategyを生成する。
func NewStrategy(users repository.UserRepository, hasher password.Hasher) *Strategy {
	return &Strategy{users: users, hasher: hasher}
}

// Authenticate は識別子とパスワードを照合し、認証済みユーザーのスナップショットを返す。
//
// 判定順序は 存在確認 → パスワード照合 → メールアドレス確認済みか であり、
// 確認状態はパスワードが正しい場合にのみ判定する。
// 識別子がメールアドレスの形式ならメールアドレスで、そうでなければユーザー名で検索する。
func (s *Strategy) Authenticate(ctx context.Context, identifier, plain string) (*model.User, error) {
	identifier = strings.TrimSpace(identifier)
	byEmail := IsEmail(identifier)

	var (
		user *model.User
		err  error
	)
	if byEmail {
		user, err = s.users.FindByEmail(ctx, NormalizeEmail(identifier))
	} else {
		user, err = s.users.FindByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		return nil, model.NewUnknownIdentifierError(byEmail)
	}
	if !s.hasher.Verify(plain, user.PasswordHash) {
		return nil, model.NewBadCredentialError()
	}
	if !user.IsVerified {
		return nil, model.NewUnverifiedAccountError()
	}

	return user.Snapshot(), nil
}
