// Package model はドメインモデルを定義する。
package model

import "time"

// TokenPurpose はワンタイムトークンの用途を表す。
type TokenPurpose string

const (
	// TokenPurposeVerification はメールアドレス確認用のトークン。
	TokenPurposeVerification TokenPurpose = "verification"
	// TokenPurposePasswordReset はパスワード再設定用のトークン。
	TokenPurposePasswordReset TokenPurpose = "password_reset"
)

// Token はユーザーに紐づく使い捨てのシークレットを表す。
// UserIDは弱参照であり、ユーザーが存在しない場合トークンは無効として扱う。
type Token struct {
	UserID    UserID
	Secret    string
	Purpose   TokenPurpose
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻時点でトークンが期限切れかどうかを返す。
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}
