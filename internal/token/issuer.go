// Package token はメールアドレス確認・パスワード再設定用のワンタイムトークンを発行・検証する。
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hitoshi/picshub/internal/model"
	"github.com/hitoshi/picshub/internal/repository"
)

// secretBytes はシークレットの乱数バイト数。16進数エンコード後は32文字になる。
const secretBytes = 16

// DefaultTTL はトークンの既定の有効期間。
const DefaultTTL = 24 * time.Hour

// ErrNotFound はトークンが存在しない、消費済み、期限切れ、または用途が異なることを表す。
// 呼び出し元はこれらを区別できない。
var ErrNotFound = errors.New("token not found")

// Issuer はトークンの発行・解決・消費を行う。
type Issuer struct {
	repo   repository.TokenRepository
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// NewIssuer はIssuerを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewIssuer(repo repository.TokenRepository, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		random: rand.Reader,
	}
}

// TTL はトークンの有効期間を返す。
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue は指定ユーザー・用途のトークンを生成して永続化し、シークレットを返す。
// シークレットが衝突した場合は1回だけ再生成する。
func (i *Issuer) Issue(ctx context.Context, userID model.UserID, purpose model.TokenPurpose) (string, error) {
	if userID.IsZero() {
		return "", fmt.Errorf("user ID is required")
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		secret, err := i.generateSecret()
		if err != nil {
			return "", fmt.Errorf("failed to generate token secret: %w", err)
		}

		now := i.now()
		tok := &model.Token{
			UserID:    userID,
			Secret:    secret,
			Purpose:   purpose,
			ExpiresAt: now.Add(i.ttl),
			CreatedAt: now,
		}

		err = i.repo.Create(ctx, tok)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, repository.ErrDuplicateSecret) {
			return "", fmt.Errorf("failed to save token: %w", err)
		}
		lastErr = err
	}

	return "", fmt.Errorf("failed to issue token after retry: %w", lastErr)
}

// Resolve はシークレットを所有ユーザーIDに解決する。トークンは消費しない。
func (i *Issuer) Resolve(ctx context.Context, secret string, purpose model.TokenPurpose) (model.UserID, error) {
	if secret == "" {
		return "", ErrNotFound
	}

	tok, err := i.repo.FindBySecret(ctx, secret)
	if err != nil {
		return "", fmt.Errorf("failed to resolve token: %w", err)
	}
	if tok == nil || tok.Purpose != purpose || tok.Expired(i.now()) {
		return "", ErrNotFound
	}
	return tok.UserID, nil
}

// Consume はトークンを原子的に削除し、所有ユーザーIDを返す。
// 同一シークレットへの同時呼び出しでは1つだけが成功し、残りはErrNotFoundを返す。
func (i *Issuer) Consume(ctx context.Context, secret string, purpose model.TokenPurpose) (model.UserID, error) {
	if secret == "" {
		return "", ErrNotFound
	}

	tok, err := i.repo.Consume(ctx, secret, purpose)
	if err != nil {
		return "", fmt.Errorf("failed to consume token: %w", err)
	}
	if tok == nil {
		return "", ErrNotFound
	}
	return tok.UserID, nil
}

func (i *Issuer) generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := io.ReadFull(i.random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
