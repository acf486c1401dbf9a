package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"time"
)

// SMTPConfig はSMTP配送の設定。
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
}

// sendMailFunc はsmtp.SendMailと同じシグネチャ。
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport はSMTPサーバー経由でメールを配送するTransport。
type SMTPTransport struct {
	addr     string
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
}

var _ Transport = (*SMTPTransport)(nil)

// NewSMTPTransport はSMTPTransportを生成する。
// Usernameが空の場合は認証なしで送信する。
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP address %q: %w", cfg.Addr, err)
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}

	return &SMTPTransport{
		addr:     cfg.Addr,
		auth:     auth,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}, nil
}

// Deliver はメッセージをRFC 5322形式に整形して送信する。
// smtp.SendMailはcontextを受け取らないため、ctxは送信開始前のキャンセル確認にのみ使う。
func (t *SMTPTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := t.sendMail(t.addr, t.auth, msg.From, []string{msg.To}, formatMessage(msg, t.now())); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", t.addr, err)
	}
	return nil
}

// formatMessage はヘッダーと本文を組み立てる。件名はMIMEエンコードする。
func formatMessage(msg Message, date time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.Bytes()
}
