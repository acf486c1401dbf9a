package repository

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反を表すSQLSTATE。
const uniqueViolation = "23505"

var (
	// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateUsername はユーザー名の一意制約違反を表す。
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrDuplicateSecret はトークンシークレットの一意制約違反を表す。
	ErrDuplicateSecret = errors.New("token secret collision")
)

// 制約名はmigrationsのDDLと一致させること。
const (
	constraintUsersEmail    = "users_email_key"
	constraintUsersUsername = "users_username_key"
	constraintTokensPK      = "tokens_pkey"
)

// mapUniqueViolation は一意制約違反のpq.Errorをセンチネルエラーに変換する。
// 該当しない場合はnilを返す。
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case constraintUsersEmail:
		return ErrDuplicateEmail
	case constraintUsersUsername:
		return ErrDuplicateUsername
	case constraintTokensPK:
		return ErrDuplicateSecret
	default:
		return nil
	}
}
