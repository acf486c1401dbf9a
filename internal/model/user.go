// Package model はドメインモデルを定義する。
package model

import "time"

// UserID はユーザーを一意に識別する型付きID。
// 所有者判定では文字列同士ではなくUserID同士を比較する。
type UserID string

// String はIDの文字列表現を返す。
func (id UserID) String() string {
	return string(id)
}

// IsZero はIDが未設定かどうかを返す。
func (id UserID) IsZero() bool {
	return id == ""
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID           UserID
	Name         string
	Username     string
	Email        string
	PasswordHash string
	IsVerified   bool
	Interest     string
	Avatar       []byte // PNGに正規化済み
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snapshot はユーザーのディープコピーを返す。
// 呼び出し元に渡したスナップショットを変更しても永続化済みの状態には影響しない。
func (u *User) Snapshot() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Avatar != nil {
		c.Avatar = append([]byte(nil), u.Avatar...)
	}
	return &c
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    UserID
	ExpiresAt time.Time
	CreatedAt time.Time
}
