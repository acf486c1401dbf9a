package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubject はメール配送要求を流すNATSサブジェクトの既定値。
const DefaultSubject = "picshub.mail"

// Publisher はNATSへのパブリッシュを抽象化する。*nats.Connが実装する。
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSTransport はメッセージをJSONにしてNATSへパブリッシュするTransport。
// 実際のSMTP配送はworkerプロセスのRelayが行う。
type NATSTransport struct {
	pub     Publisher
	subject string
}

var _ Transport = (*NATSTransport)(nil)

// NewNATSTransport はNATSTransportを生成する。subjectが空の場合はDefaultSubjectを使用する。
func NewNATSTransport(pub Publisher, subject string) *NATSTransport {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSTransport{pub: pub, subject: subject}
}

// Deliver はメッセージをパブリッシュする。
func (t *NATSTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := t.pub.Publish(t.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", t.subject, err)
	}
	return nil
}
