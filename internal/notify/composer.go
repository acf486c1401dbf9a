package notify

import (
	"fmt"
	"strings"
)

// Composer は認証フローで送るメールを組み立てる。
type Composer struct {
	baseURL string
	from    string
}

// NewComposer はComposerを生成する。baseURLの末尾のスラッシュは取り除く。
func NewComposer(baseURL, from string) *Composer {
	return &Composer{
		baseURL: strings.TrimRight(baseURL, "/"),
		from:    from,
	}
}

// ConfirmationLink はメールアドレス確認リンクを返す。
func (c *Composer) ConfirmationLink(secret string) string {
	return c.baseURL + "/confirmation/" + secret
}

// ResetLink はパスワード再設定リンクを返す。
func (c *Composer) ResetLink(secret string) string {
	return c.baseURL + "/reset/" + secret
}

// Verification は登録直後の確認メールを組み立てる。
func (c *Composer) Verification(to, name, secret string) Message {
	return Message{
		To:      to,
		From:    c.from,
		Subject: "Verify your email to start using Picshub",
		Body: fmt.Sprintf(
			"Welcome to Picshub %s. Verify your email address so we know it's really you. Click on this link:\n%s\n",
			name, c.ConfirmationLink(secret),
		),
	}
}

// ResendVerification は確認メールの再送を組み立てる。
func (c *Composer) ResendVerification(to, name, secret string) Message {
	msg := c.Verification(to, name, secret)
	msg.Body = fmt.Sprintf(
		"Hello %s. Here is a new link to verify your email address for Picshub:\n%s\n",
		name, c.ConfirmationLink(secret),
	)
	return msg
}

// PasswordReset はパスワード再設定メールを組み立てる。
func (c *Composer) PasswordReset(to, name, secret string) Message {
	return Message{
		To:      to,
		From:    c.from,
		Subject: "Password reset request",
		Body: fmt.Sprintf(
			"Hello %s. A request has been received to change the password for your Picshub account. "+
				"Click on this link if it's really you and follow the instructions to reset your password:\n%s\n",
			name, c.ResetLink(secret),
		),
	}
}

// PasswordChanged はパスワード変更完了の通知を組み立てる。
func (c *Composer) PasswordChanged(to, name string) Message {
	return Message{
		To:      to,
		From:    c.from,
		Subject: "Password changed",
		Body:    fmt.Sprintf("Hello %s. This is a confirmation that your password has been changed.\n", name),
	}
}
