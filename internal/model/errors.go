// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: auth, validation, token, image, system
	Action   string   // ユーザー向け対処方法
	Details  []string // 入力検証で収集した個別メッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeUnknownIdentifier  = "UNKNOWN_IDENTIFIER"
	ErrCodeBadCredential      = "BAD_CREDENTIAL"
	ErrCodeUnverifiedAccount  = "UNVERIFIED_ACCOUNT"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeDuplicateUsername  = "DUPLICATE_USERNAME"
	ErrCodeEmailNotRegistered = "EMAIL_NOT_REGISTERED"
	ErrCodeInvalidOrUsedToken = "INVALID_OR_USED_TOKEN"
	ErrCodeOrphanedToken      = "ORPHANED_TOKEN"
	ErrCodeImageNotFound      = "IMAGE_NOT_FOUND"
	ErrCodeInvalidUpload      = "INVALID_UPLOAD"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
)

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == code
}

// NewValidationError は入力検証エラーを生成する。
// detailsには違反した全ルールのメッセージを格納する。
func NewValidationError(details []string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "表示されたエラーを修正してから再度送信してください。",
		Details:  details,
	}
}

// NewUnknownIdentifierError は未登録のメールアドレスまたはユーザー名でのログインエラーを生成する。
// byEmailがtrueの場合はメールアドレスでの検索だったことを示す。
func NewUnknownIdentifierError(byEmail bool) *APIError {
	msg := "ユーザー名が正しくありません。"
	if byEmail {
		msg = "このメールアドレスは登録されていません。"
	}
	return &APIError{
		Code:     ErrCodeUnknownIdentifier,
		Message:  msg,
		Category: "auth",
		Action:   "入力内容を確認するか、新規登録してください。",
	}
}

// NewBadCredentialError はパスワード不一致エラーを生成する。
func NewBadCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeBadCredential,
		Message:  "パスワードが正しくありません。",
		Category: "auth",
		Action:   "パスワードを確認して再度お試しください。",
	}
}

// NewUnverifiedAccountError はメールアドレス未確認アカウントでのログインエラーを生成する。
func NewUnverifiedAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeUnverifiedAccount,
		Message:  "アカウントのメールアドレスが確認されていません。",
		Category: "auth",
		Action:   "確認メールのリンクを開くか、確認メールを再送信してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewDuplicateUsernameError はユーザー名重複エラーを生成する。
func NewDuplicateUsernameError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  "登録に失敗しました。",
		Category: "validation",
		Action:   "別のユーザー名で再度お試しください。",
	}
}

// NewEmailNotRegisteredError はメールアドレスに該当するユーザーがいない場合のエラーを生成する。
func NewEmailNotRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotRegistered,
		Message:  "このメールアドレスのユーザーが見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認してください。",
	}
}

// NewInvalidOrUsedTokenError は無効または使用済みトークンのエラーを生成する。
// 存在しないトークンと使用済みトークンは区別しない。
func NewInvalidOrUsedTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrUsedToken,
		Message:  "トークンが無効か、有効期限が切れています。",
		Category: "token",
		Action:   "もう一度メールの送信をリクエストしてください。",
	}
}

// NewOrphanedTokenError はトークンに対応するユーザーが存在しない場合のエラーを生成する。
func NewOrphanedTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeOrphanedToken,
		Message:  "このトークンに対応するユーザーが見つかりません。",
		Category: "token",
		Action:   "新規登録してください。",
	}
}

// NewImageNotFoundError は画像が見つからない（または閲覧権限がない）場合のエラーを生成する。
func NewImageNotFoundError(imageID string) *APIError {
	return &APIError{
		Code:     ErrCodeImageNotFound,
		Message:  fmt.Sprintf("指定された画像が見つかりません: %s", imageID),
		Category: "image",
		Action:   "画像IDを確認してください。",
	}
}

// NewInvalidUploadError はアップロードファイルが不正な場合のエラーを生成する。
func NewInvalidUploadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUpload,
		Message:  fmt.Sprintf("アップロードできないファイルです: %s", reason),
		Category: "validation",
		Action:   "1MB以下の .jpg、.jpeg、.png ファイルを選択してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
