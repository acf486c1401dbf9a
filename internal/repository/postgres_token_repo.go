package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/picshub/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したワンタイムトークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Create はトークンを作成する。シークレットが衝突した場合はErrDuplicateSecretを返す。
func (r *PostgresTokenRepo) Create(ctx context.Context, token *model.Token) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (secret, user_id, purpose, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		token.Secret, string(token.UserID), string(token.Purpose), token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// FindBySecret はシークレットでトークンを検索する。
// 存在しない、または期限切れの場合はnilを返す。
func (r *PostgresTokenRepo) FindBySecret(ctx context.Context, secret string) (*model.Token, error) {
	token := &model.Token{}
	var userID, purpose string
	err := r.db.QueryRowContext(ctx,
		`SELECT secret, user_id, purpose, expires_at, created_at
		 FROM tokens
		 WHERE secret = $1 AND expires_at > now()`,
		secret,
	).Scan(&token.Secret, &userID, &purpose, &token.ExpiresAt, &token.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}

	token.UserID = model.UserID(userID)
	token.Purpose = model.TokenPurpose(purpose)
	return token, nil
}

// Consume はシークレットと用途が一致する有効なトークンを削除し、削除したトークンを返す。
// DELETE ... RETURNING の1文で実行するため、同時に消費を試みても行を受け取れるのは1件のみ。
func (r *PostgresTokenRepo) Consume(ctx context.Context, secret string, purpose model.TokenPurpose) (*model.Token, error) {
	token := &model.Token{}
	var userID, p string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM tokens
		 WHERE secret = $1 AND purpose = $2 AND expires_at > now()
		 RETURNING secret, user_id, purpose, expires_at, created_at`,
		secret, string(purpose),
	).Scan(&token.Secret, &userID, &p, &token.ExpiresAt, &token.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}

	token.UserID = model.UserID(userID)
	token.Purpose = model.TokenPurpose(p)
	return token, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
