package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
    QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
    PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
    Close() error
}

type dialFunc func(url string) (amqpChannel, io.Closer, error)

func dialAMQP(url string) (amqpChannel, io.Closer, error) {
    conn, err := amqp.Dial(url)
    if err != nil {
        return nil, nil, fmt.Errorf("dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, nil, fmt.Errorf("channel open: %w", err)
    }
    return ch, conn, nil
}

// Publisher publishes EmailMessages to a durable queue on the default
// exchange.  The connection is opened lazily and dropped after any failure
// so the next call redials.  Safe for concurrent use.
type Publisher struct {
    url   string
    queue string
    dial  dialFunc

    mu   sync.Mutex
    ch   amqpChannel
    conn io.Closer
}

func NewPublisher(url, queue string) *Publisher {
    return &Publisher{url: url, queue: queue, dial: dialAMQP}
}

// Publish sends msg as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, msg EmailMessage) error {
    body, err := json.Marshal(msg)
    if err != nil {
        return fmt.Errorf("marshal email: %w", err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    if err := p.ensureChannel(); err != nil {
        return err
    }
    err = p.ch.PublishWithContext(ctx,
        "",      // default exchange
        p.queue, // routing key = queue name
        false,   // mandatory
        false,   // immediate
        amqp.Publishing{
            ContentType:  "application/json",
            DeliveryMode: amqp.Persistent,
            Timestamp:    time.Now().UTC(),
            Body:         body,
        })
    if err != nil {
        p.resetLocked()
        return fmt.Errorf("publish: %w", err)
    }
    return nil
}

func (p *Publisher) ensureChannel() error {
    if p.ch != nil {
        return nil
    }
    ch, conn, err := p.dial(p.url)
    if err != nil {
        return err
    }
    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        if conn != nil {
            _ = conn.Close()
        }
        return fmt.Errorf("queue declare: %w", err)
    }
    p.ch, p.conn = ch, conn
    return nil
}

func (p *Publisher) resetLocked() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.ch, p.conn = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.resetLocked()
    return nil
}
