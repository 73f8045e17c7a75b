// Package queue defines the payloads exchanged over the message broker and
// the AMQP publisher/consumer pair that carries outbound email.
package queue

import "time"

// Email kinds, used for logging and metrics on the consumer side.
const (
    KindCreateAccount = "create_account"
    KindResetPassword = "reset_password"
)

// EmailMessage is a fully rendered email waiting for delivery.  The
// consumer only transports it; no template work happens after publish.
type EmailMessage struct {
    Kind      string    `json:"kind"`
    To        string    `json:"to"`
    Subject   string    `json:"subject"`
    HTML      string    `json:"html"`
    CreatedAt time.Time `json:"created_at"`
}
