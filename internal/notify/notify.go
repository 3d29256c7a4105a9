// Package notify hands sync-completion events to whoever listens for them.
//
// The publisher is best effort: a failed publish is logged and returned, and
// the sync run that produced the event is never marked failed because of it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SyncCompleted is published once per finished sync run.
type SyncCompleted struct {
	RunID      string    `json:"runId"`
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Errored    int       `json:"errored"`
	Warnings   int       `json:"warnings"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Notifier interface {
	SyncCompleted(ctx context.Context, ev SyncCompleted) error
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) SyncCompleted(context.Context, SyncCompleted) error { return nil }

// AMQP publishes events as persistent JSON messages to a durable queue on
// the default exchange. Each publish dials its own connection; sync runs
// finish rarely enough that pooling is not worth a reconnect loop.
type AMQP struct {
	url    string
	queue  string
	logger *slog.Logger
	dial   func(url string) (*amqp.Connection, error)
}

func NewAMQP(url, queue string, logger *slog.Logger) *AMQP {
	return &AMQP{url: url, queue: queue, logger: logger, dial: amqp.Dial}
}

// New returns an AMQP notifier when url is set, otherwise Nop.
func New(url, queue string, logger *slog.Logger) Notifier {
	if url == "" {
		logger.Info("RABBITMQ_URL not set, sync notifications disabled")
		return Nop{}
	}
	return NewAMQP(url, queue, logger)
}

func (a *AMQP) SyncCompleted(ctx context.Context, ev SyncCompleted) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encoding event: %w", err)
	}
	if err := a.publish(ctx, body); err != nil {
		a.logger.Warn("sync notification not delivered",
			slog.String("run_id", ev.RunID),
			slog.String("error", err.Error()),
		)
		return err
	}
	a.logger.Debug("sync notification published", slog.String("run_id", ev.RunID), slog.String("queue", a.queue))
	return nil
}

func (a *AMQP) publish(ctx context.Context, body []byte) error {
	conn, err := a.dial(a.url)
	if err != nil {
		return fmt.Errorf("notify: dialing broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("notify: opening channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("notify: declaring queue %s: %w", a.queue, err)
	}

	err = ch.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: publishing to %s: %w", a.queue, err)
	}
	return nil
}
