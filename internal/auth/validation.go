package auth

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/picshub/internal/model"
)

// MinUsernameLength はユーザー名の最小文字数。
const MinUsernameLength = 6

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// maxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
const maxPasswordBytes = 72

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegistrationInput は新規登録フォームの入力値。
type RegistrationInput struct {
	Name            string
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
}

// registrationForm は検証対象の正規化済み入力。
// フィールドの並び順がエラーメッセージの並び順になる。
type registrationForm struct {
	Name            string `validate:"required"`
	Username        string `validate:"required,min=6"`
	Email           string `validate:"required,email"`
	Password        string `validate:"required,min=6"`
	PasswordConfirm string `validate:"required,eqfield=Password"`
}

// passwordForm はパスワード再設定フォームの検証対象。
type passwordForm struct {
	Password        string `validate:"required,min=6"`
	PasswordConfirm string `validate:"required,eqfield=Password"`
}

// validationMessages はフィールドとタグの組み合わせに対応するメッセージ。
var validationMessages = map[string]string{
	"Name.required":            "名前を入力してください。",
	"Username.required":        "ユーザー名を入力してください。",
	"Username.min":             "ユーザー名は6文字以上で入力してください。",
	"Email.required":           "メールアドレスを入力してください。",
	"Email.email":              "メールアドレスの形式が正しくありません。",
	"Password.required":        "パスワードを入力してください。",
	"Password.min":             "パスワードは6文字以上で入力してください。",
	"PasswordConfirm.required": "確認用パスワードを入力してください。",
	"PasswordConfirm.eqfield":  "パスワードが一致しません。",
}

const passwordTooLongMessage = "パスワードは72バイト以内で入力してください。"

// NormalizeEmail はメールアドレスの前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsEmail は文字列がメールアドレスの形式かどうかを返す。
func IsEmail(s string) bool {
	return validate.Var(s, "required,email") == nil
}

// Normalize は名前とユーザー名の前後の空白を除去し、メールアドレスを正規化した入力を返す。
// パスワードは変更しない。
func (in RegistrationInput) Normalize() RegistrationInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = NormalizeEmail(in.Email)
	return in
}

// ValidateRegistration は登録入力を検証し、違反したすべてのルールをまとめたエラーを返す。
// 違反がなければnilを返す。
func ValidateRegistration(in RegistrationInput) error {
	in = in.Normalize()
	form := registrationForm{
		Name:            in.Name,
		Username:        in.Username,
		Email:           in.Email,
		Password:        blankToEmpty(in.Password),
		PasswordConfirm: blankToEmpty(in.PasswordConfirm),
	}

	details := collect(validate.Struct(form))
	if len(in.Password) > maxPasswordBytes {
		details = append(details, passwordTooLongMessage)
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// ValidatePasswordChange は新しいパスワードと確認用パスワードを検証する。
func ValidatePasswordChange(password, confirm string) error {
	form := passwordForm{
		Password:        blankToEmpty(password),
		PasswordConfirm: blankToEmpty(confirm),
	}

	details := collect(validate.Struct(form))
	if len(password) > maxPasswordBytes {
		details = append(details, passwordTooLongMessage)
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// blankToEmpty は空白のみの文字列を空として扱う。
func blankToEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// collect はvalidatorのエラーを表示用メッセージの一覧に変換する。
func collect(err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if msg, ok := validationMessages[fe.StructField()+"."+fe.Tag()]; ok {
			details = append(details, msg)
			continue
		}
		details = append(details, fe.Error())
	}
	return details
}
