package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/picshub/internal/metrics"
)

var (
	// ErrQueueFull は送信キューが満杯でメッセージを受け付けられなかったことを表す。
	ErrQueueFull = errors.New("notification queue is full")
	// ErrClosed はDispatcherが停止済みであることを表す。
	ErrClosed = errors.New("notification dispatcher is closed")
)

// DefaultQueueSize は送信キューの既定サイズ。
const DefaultQueueSize = 100

// defaultDeliverTimeout は1通あたりの配送タイムアウト。
const defaultDeliverTimeout = 30 * time.Second

// 通知メトリクスの結果ラベル。
const (
	outcomeQueued    = "queued"
	outcomeDropped   = "dropped"
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
)

// Dispatcher は有界キューとバックグラウンドgoroutineでTransportへの配送を非同期化するNotifier。
// Sendはブロックせず、キューが満杯の場合はErrQueueFullを返す。
type Dispatcher struct {
	transport Transport
	metrics   metrics.MetricsCollector
	timeout   time.Duration

	ch      chan Message
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64

	// muはキューへの投入と停止を排他する。
	mu     sync.RWMutex
	closed bool
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher はDispatcherを生成し、配送goroutineを起動する。
// queueSizeが0以下の場合はDefaultQueueSizeを使用する。
func NewDispatcher(transport Transport, queueSize int, m metrics.MetricsCollector) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if m == nil {
		m = metrics.Nop{}
	}

	d := &Dispatcher{
		transport: transport,
		metrics:   m,
		timeout:   defaultDeliverTimeout,
		ch:        make(chan Message, queueSize),
		done:      make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			// 停止時はキューに残ったメッセージを配送してから終了する
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.transport.Deliver(ctx, msg); err != nil {
		d.metrics.RecordNotification(outcomeFailed)
		slog.Error("failed to deliver notification",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return
	}
	d.metrics.RecordNotification(outcomeDelivered)
}

// Send はメッセージを送信キューに積む。配送の完了は待たない。
func (d *Dispatcher) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.ch <- msg:
		d.metrics.RecordNotification(outcomeQueued)
		return nil
	default:
		d.dropped.Add(1)
		d.metrics.RecordNotification(outcomeDropped)
		return ErrQueueFull
	}
}

// Close は新規受付を止め、キューに残ったメッセージの配送完了を待つ。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// Dropped はキュー満杯で破棄したメッセージ数を返す。
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
