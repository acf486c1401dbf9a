package notify

import (
	"context"
	"log/slog"
)

// LogTransport はメッセージを配送せず構造化ログに記録するTransport。
// 本文にはトークンが含まれるため、本文はバイト数のみ記録する。
type LogTransport struct {
	logger *slog.Logger
}

var _ Transport = (*LogTransport)(nil)

// NewLogTransport はLogTransportを生成する。loggerがnilの場合はslog.Default()を使用する。
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

// Deliver はメッセージの宛先と件名をログに出力する。
func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	t.logger.InfoContext(ctx, "notification",
		slog.String("to", msg.To),
		slog.String("from", msg.From),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)),
	)
	return nil
}
