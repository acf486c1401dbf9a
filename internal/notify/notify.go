// Package notify はメール通知の組み立てと非同期配送を提供する。
//
// 認証フローはNotifierに送信を依頼するだけで、配送の成否を待たない。
// 実際の配送はTransport（ログ出力、SMTP、NATS経由のリレー）が担う。
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message は1通のメールを表す。
type Message struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate は配送に必要なフィールドが揃っているかを検証する。
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("message recipient is required")
	}
	if strings.TrimSpace(m.From) == "" {
		return errors.New("message sender is required")
	}
	if strings.ContainsAny(m.To+m.From+m.Subject, "\r\n") {
		return fmt.Errorf("message header contains line break")
	}
	return nil
}

// Notifier は認証フローから呼び出される送信インターフェース。
// Sendは配送完了を待たずに返る。
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Transport はメッセージを実際に配送する。
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// TransportFunc は関数をTransportとして扱うアダプター。
type TransportFunc func(ctx context.Context, msg Message) error

// Deliver はf(ctx, msg)を呼び出す。
func (f TransportFunc) Deliver(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
