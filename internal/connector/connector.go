// Package connector defines the boundary to the messaging-protocol client.
// The orchestration layer only sees Conn handles and the events they emit;
// handshake, encryption and transport stay inside the implementation
// (see connector/whatsapp).
package connector

import (
	"context"
	"time"
)

// LifecycleKind enumerates connection lifecycle transitions.
type LifecycleKind string

// LifecycleTerminated means the connection is gone for good without a
// logout, e.g. its stream was taken over by another connection or the
// account is temporarily banned. The client will not reconnect on its own.
const (
	LifecycleQR         LifecycleKind = "qr"
	LifecycleOpen       LifecycleKind = "open"
	LifecycleClosed     LifecycleKind = "closed"
	LifecycleLoggedOut  LifecycleKind = "logged_out"
	LifecycleTerminated LifecycleKind = "terminated"
)

// Final reports whether the connection can no longer recover by itself.
func (k LifecycleKind) Final() bool {
	return k == LifecycleLoggedOut || k == LifecycleTerminated
}

// Event is delivered to subscribers: either *Lifecycle or *Message.
type Event interface {
	event()
}

// Lifecycle reports a connection state change. QR is set for LifecycleQR,
// Reason for LifecycleTerminated.
type Lifecycle struct {
	Kind   LifecycleKind
	QR     string
	Reason string
}

// Message is an inbound chat message in connector-neutral form.
type Message struct {
	ID        string    `json:"id"`
	Chat      string    `json:"chat"`
	Sender    string    `json:"sender"`
	FromMe    bool      `json:"fromMe"`
	Timestamp time.Time `json:"timestamp"`

	// Conversation is the plain-text body; ExtendedText is the body of an
	// extended (quoted/linked) text message. At most one is usually set.
	Conversation string `json:"conversation,omitempty"`
	ExtendedText string `json:"extendedText,omitempty"`

	// Raw is the connector's native event, forwarded verbatim to webhooks.
	Raw any `json:"raw,omitempty"`
}

func (*Lifecycle) event() {}
func (*Message) event()   {}

// Handler receives events on the connector's dispatch goroutine.
// It must not block and must not call the unsubscribe func it was given.
type Handler func(Event)

// Conn is a live connection handle for one tenant.
type Conn interface {
	Tenant() string
	// Connect starts the connection. Lifecycle events follow asynchronously.
	Connect(ctx context.Context) error
	// Subscribe registers h and returns a func removing it.
	Subscribe(h Handler) (unsubscribe func())
	SendText(ctx context.Context, to, text string) error
	// IsLoggedIn reports an authenticated, connected session.
	IsLoggedIn() bool
	Close() error
}

// Connector constructs connections with the tenant's persisted auth state.
type Connector interface {
	Open(ctx context.Context, tenant string) (Conn, error)
}
