// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/picshub/internal/model"
)

// UserRepository はユーザーデータ（資格情報ストア）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id model.UserID) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。
	// 一意制約違反の場合はErrDuplicateEmailまたはErrDuplicateUsernameを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は表示名、興味、アバターを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id model.UserID, passwordHash string) error

	// MarkVerified はメールアドレス確認済みフラグを立てる。
	MarkVerified(ctx context.Context, id model.UserID) error
}

// TokenRepository はワンタイムトークンの永続化インターフェース。
type TokenRepository interface {
	// Create はトークンを作成する。シークレットが衝突した場合はErrDuplicateSecretを返す。
	Create(ctx context.Context, token *model.Token) error

	// FindBySecret はシークレットでトークンを検索する。
	// 存在しない、または期限切れの場合はnilを返す。
	FindBySecret(ctx context.Context, secret string) (*model.Token, error)

	// Consume はシークレットと用途が一致する有効なトークンを1回の操作で削除し、削除したトークンを返す。
	// 該当するトークンがない（既に消費済みを含む）場合はnilを返す。
	// 同一シークレットへの同時呼び出しのうち、トークンを返すのは1つだけである。
	Consume(ctx context.Context, secret string, purpose model.TokenPurpose) (*model.Token, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID model.UserID) error
}

// ImageRepository は画像メタデータの永続化インターフェース。
type ImageRepository interface {
	// Create は画像を作成する。
	Create(ctx context.Context, image *model.Image) error

	// FindByID は指定IDの画像を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id model.ImageID) (*model.Image, error)

	// ListPublic は公開画像を所有者情報付きで作成日時の降順に返す。
	ListPublic(ctx context.Context) ([]model.ImageWithOwner, error)

	// ListByOwner は指定ユーザーの全画像（非公開を含む）を作成日時の降順に返す。
	ListByOwner(ctx context.Context, ownerID model.UserID) ([]*model.Image, error)

	// ListPublicByOwner は指定ユーザーの公開画像を作成日時の降順に返す。
	ListPublicByOwner(ctx context.Context, ownerID model.UserID) ([]*model.Image, error)

	// Update はキャプションと公開範囲を更新する。
	Update(ctx context.Context, image *model.Image) error

	// Delete は指定IDの画像を削除する。
	Delete(ctx context.Context, id model.ImageID) error
}
