package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/account-service/internal/logging"
)

// Mailer delivers a rendered email.
type Mailer interface {
    Send(ctx context.Context, msg EmailMessage) error
}

// Consumer drains the email queue into a Mailer.  Failed deliveries are
// rejected without requeue so a poison message cannot spin the loop.
type Consumer struct {
    URL    string
    Queue  string
    Mailer Mailer
    Log    logging.Logger
}

// Run connects to the broker and consumes until ctx is cancelled, redialing
// with exponential backoff (capped at 30s) whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            c.Log.Warn(ctx, "email consumer: dial failed", "error", err, "retry_in", backoff.String())
            if !sleepCtx(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.Log.Warn(ctx, "email consumer: loop ended, reconnecting", "error", err)
        if !sleepCtx(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(10, 0, false); err != nil {
        c.Log.Warn(ctx, "email consumer: set QoS failed", "error", err)
    }
    if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, c.Queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        if err := c.HandleMessage(ctx, d.Body); err != nil {
            c.Log.Error(ctx, "email consumer: delivery failed", "error", err)
            _ = d.Nack(false, false)
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}

// HandleMessage decodes one queued email and hands it to the Mailer.
func (c *Consumer) HandleMessage(ctx context.Context, body []byte) error {
    var msg EmailMessage
    if err := json.Unmarshal(body, &msg); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if msg.To == "" {
        return errors.New("email without recipient")
    }
    if err := c.Mailer.Send(ctx, msg); err != nil {
        return fmt.Errorf("send %s email: %w", msg.Kind, err)
    }
    c.Log.Info(ctx, "email delivered", "kind", msg.Kind, "to", msg.To)
    return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
