package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/infrastructure/resilience"
)

const DefaultEventSubject = "receipt.ingested"

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultEventSubject
	}

	conn, err := nats.Connect(
		url,
		nats.Name("fiscal-receipt-ingest"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishReceiptIngested announces a committed receipt to downstream consumers.
func (q *Queue) PublishReceiptIngested(ctx context.Context, event domain.ReceiptIngested) error {
	data, err := encodeEvent(event)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		return q.conn.Publish(q.subject, data)
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyBrokerError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return brokerError("publish receipt event", q.subject, err)
	}
	return nil
}

func encodeEvent(event domain.ReceiptIngested) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode receipt event: %w", err)
	}
	return data, nil
}

// RequestHandler answers one request payload with a reply payload.
type RequestHandler func(ctx context.Context, data []byte) []byte

// Serve answers request/reply traffic on subject until ctx is cancelled, then drains.
// Members of the same queue group share the load.
func (q *Queue) Serve(ctx context.Context, subject, group string, handler RequestHandler) error {
	sub, err := q.conn.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		reply := handler(handlerCtx, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			q.logger.Warn("nats_reply_fail", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("nats_serving", "subject", subject, "group", group)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// Request sends one request and waits for the reply.
func (q *Queue) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := q.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, brokerError("request receipt reply", subject, err)
	}
	return msg.Data, nil
}
