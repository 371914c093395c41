// Package events carries domain events from the cache and the credential manager to
// in-process subscribers and, optionally, to NATS or RabbitMQ.
package events

import "time"

// Event type names, also used as NATS subject suffixes and AMQP routing keys.
const (
	TypeResourceCached = "resource.cached"
	TypeSessionStarted = "session.started"
	TypeSessionEnded   = "session.ended"
	TypeSessionRevoked = "session.revoked"
)

// Event is anything the bus can route.
type Event interface {
	EventType() string
}

// ResourceCached is published after a download has been written to the resource store.
type ResourceCached struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int       `json:"size"`
}

func (ResourceCached) EventType() string { return TypeResourceCached }

// SessionStarted follows a successful password login.
type SessionStarted struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (SessionStarted) EventType() string { return TypeSessionStarted }

// SessionEnded follows an explicit logout.
type SessionEnded struct {
	At time.Time `json:"at"`
}

func (SessionEnded) EventType() string { return TypeSessionEnded }

// SessionRevoked is published when the token endpoint rejects the refresh token and the
// stored credential is discarded.
type SessionRevoked struct {
	Status int       `json:"status"`
	At     time.Time `json:"at"`
}

func (SessionRevoked) EventType() string { return TypeSessionRevoked }
