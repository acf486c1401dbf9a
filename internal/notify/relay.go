package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// relayQueueGroup は複数workerで配送要求を分担するためのキューグループ名。
const relayQueueGroup = "picshub-mail-relay"

// Relay はNATSで受信した配送要求をTransport（通常はSMTP）へ引き渡す。
type Relay struct {
	transport  Transport
	maxRetries int
	retryDelay time.Duration
}

// NewRelay はRelayを生成する。
func NewRelay(transport Transport) *Relay {
	return &Relay{
		transport:  transport,
		maxRetries: 3,
		retryDelay: 2 * time.Second,
	}
}

// Subscribe はsubjectをキューグループで購読し、受信した配送要求を処理する。
func (r *Relay) Subscribe(nc *nats.Conn, subject string) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := nc.QueueSubscribe(subject, relayQueueGroup, r.HandleMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %s: %w", subject, err)
	}
	slog.Info("mail relay subscribed", slog.String("subject", subject))
	return sub, nil
}

// HandleMsg は1件の配送要求を処理する。配送は最大maxRetries回試行する。
func (r *Relay) HandleMsg(m *nats.Msg) {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		slog.Error("failed to decode mail request", slog.String("error", err.Error()))
		return
	}
	if err := msg.Validate(); err != nil {
		slog.Warn("invalid mail request", slog.String("error", err.Error()))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), defaultDeliverTimeout)
		lastErr = r.transport.Deliver(ctx, msg)
		cancel()
		if lastErr == nil {
			slog.Info("mail relayed",
				slog.String("to", msg.To),
				slog.Int("attempt", attempt),
			)
			return
		}
		if attempt < r.maxRetries {
			time.Sleep(r.retryDelay)
		}
	}

	slog.Error("failed to relay mail",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("attempts", r.maxRetries),
		slog.String("error", lastErr.Error()),
	)
}
