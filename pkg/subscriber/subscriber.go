// Package subscriber contains the domain model for re-engagement push
// subscribers: who they are, where their browser can be reached, and when
// they were last seen.
package subscriber

import (
	"time"

	"github.com/google/uuid"
)

// Status describes the subscription lifecycle state of a subscriber.
type Status string

const (
	// StatusUnregistered means the subscriber exists but has never
	// completed a push subscription.
	StatusUnregistered Status = "unregistered"

	// StatusSubscribed means the subscriber holds a live endpoint
	// descriptor and is eligible for re-engagement notifications.
	StatusSubscribed Status = "subscribed"

	// StatusUnsubscribed means a previous subscription was invalidated
	// (the push service reported the endpoint gone). The row is kept so a
	// later re-subscribe restores the same identity.
	StatusUnsubscribed Status = "unsubscribed"
)

// Keys holds the client-generated encryption keys of a push subscription.
// They are opaque to this service and only ever forwarded to the push
// transport.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is the endpoint descriptor handed to us by the browser's
// PushManager. Beyond extracting the endpoint origin for VAPID claims the
// service treats it as an opaque token.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Subscriber represents one user of the client application.
//
// LastActive is advanced by every heartbeat and by each successfully
// delivered re-engagement notification; under normal operation it never
// moves backwards. Subscription is nil exactly when Status is not
// StatusSubscribed.
type Subscriber struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Subscription *Subscription `json:"subscription,omitempty"`
	LastActive   time.Time     `json:"lastActive" db:"last_active"`
	Status       Status        `json:"status"`
}

// New creates a freshly subscribed Subscriber.
func New(name string, sub Subscription, now time.Time) Subscriber {
	return Subscriber{
		ID:           uuid.NewString(),
		Name:         name,
		Subscription: &sub,
		LastActive:   now,
		Status:       StatusSubscribed,
	}
}

// Subscribed reports whether the subscriber currently holds a usable
// endpoint descriptor.
func (s Subscriber) Subscribed() bool {
	return s.Status == StatusSubscribed && s.Subscription != nil
}
