package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/picshub/internal/model"
)

const userColumns = `id, name, username, email, password_hash, is_verified,
	COALESCE(interest, ''), avatar, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id model.UserID) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id))
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg string) (*model.User, error) {
	user := &model.User{}
	var id string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&id, &user.Name, &user.Username, &user.Email, &user.PasswordHash, &user.IsVerified,
		&user.Interest, &user.Avatar, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.ID = model.UserID(id)
	return user, nil
}

// Create はユーザーを作成する。
// 一意制約違反の場合はErrDuplicateEmailまたはErrDuplicateUsernameを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, username, email, password_hash, is_verified, interest, avatar, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`,
		string(user.ID), user.Name, user.Username, user.Email, user.PasswordHash, user.IsVerified,
		user.Interest, user.Avatar, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateProfile は表示名、興味、アバターを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	return r.execOne(ctx, "update profile",
		`UPDATE users SET name = $2, interest = NULLIF($3, ''), avatar = $4, updated_at = now()
		 WHERE id = $1`,
		string(user.ID), user.Name, user.Interest, user.Avatar,
	)
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id model.UserID, passwordHash string) error {
	return r.execOne(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		string(id), passwordHash,
	)
}

// MarkVerified はメールアドレス確認済みフラグを立てる。
func (r *PostgresUserRepo) MarkVerified(ctx context.Context, id model.UserID) error {
	return r.execOne(ctx, "mark verified",
		`UPDATE users SET is_verified = TRUE, updated_at = now() WHERE id = $1`,
		string(id),
	)
}

// execOne は1行を更新するクエリを実行し、対象行がない場合はエラーを返す。
func (r *PostgresUserRepo) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed to %s: user not found", op)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
