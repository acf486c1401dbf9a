// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// ImageID は画像を一意に識別する型付きID。
type ImageID string

// String はIDの文字列表現を返す。
func (id ImageID) String() string {
	return string(id)
}

// Visibility は画像の公開範囲を表す。
type Visibility string

const (
	// VisibilityPublic は全ユーザーに公開される。
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate は所有者のみ閲覧できる。
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility は文字列をVisibilityに変換する。
// 空文字列は既定値のpublicとして扱い、それ以外の未知の値はfalseを返す。
func ParseVisibility(s string) (Visibility, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(VisibilityPublic):
		return VisibilityPublic, true
	case string(VisibilityPrivate):
		return VisibilityPrivate, true
	default:
		return "", false
	}
}

// Image はユーザーがアップロードした画像を表す。
type Image struct {
	ID         ImageID
	OwnerID    UserID
	Filename   string // ストレージ上のオブジェクト名
	Path       string // ストレージが返す参照（ローカルパスまたはS3キー）
	Caption    string
	Visibility Visibility
	CreatedAt  time.Time
}

// IsPublic は画像が公開状態かどうかを返す。
func (i *Image) IsPublic() bool {
	return i.Visibility == VisibilityPublic
}

// ImageOwner は一覧表示用の所有者情報。
type ImageOwner struct {
	ID       UserID
	Name     string
	Username string
	Avatar   []byte
}

// ImageWithOwner は画像と所有者情報を結合したモデル。
// 所有者が削除済みの場合Ownerはnilになる。
type ImageWithOwner struct {
	Image
	Owner *ImageOwner
}
