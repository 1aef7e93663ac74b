// Package dispatch contains the public contracts between the subscriber
// store, the push dispatcher, and the inactivity scheduler.
package dispatch

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-reengagement-service/pkg/subscriber"
)

// Result classifies the outcome of a single delivery attempt.
type Result string

const (
	// ResultDelivered means the push service accepted the request.
	ResultDelivered Result = "delivered"

	// ResultGone means the push service reported the endpoint permanently
	// gone (HTTP 404/410). The subscription must be invalidated.
	ResultGone Result = "gone"

	// ResultAuthRejected means the push service rejected our VAPID
	// credentials (HTTP 401/403). The subscription is still believed
	// valid; the fault is in signing configuration and needs an operator,
	// not invalidation.
	ResultAuthRejected Result = "auth_rejected"

	// ResultTransient covers timeouts, 5xx responses and network errors.
	// No state changes; the next scan cycle retries naturally.
	ResultTransient Result = "transient"

	// ResultSkippedNoSubscription means the subscriber has no endpoint
	// descriptor and no network call was made.
	ResultSkippedNoSubscription Result = "skipped_no_subscription"
)

// Outcome is the typed result of one delivery attempt. The dispatcher never
// mutates the store itself; callers reconcile outcomes.
type Outcome struct {
	Result Result
	// StatusCode is the push service's HTTP status, when a response was
	// received at all.
	StatusCode int
	Err        error
}

// Delivered reports whether the attempt succeeded.
func (o Outcome) Delivered() bool { return o.Result == ResultDelivered }

// Permanent reports whether the outcome requires invalidating the
// subscription.
func (o Outcome) Permanent() bool { return o.Result == ResultGone }

// Dispatcher sends one signed notification to one subscriber's endpoint and
// classifies the result.
type Dispatcher interface {
	Send(ctx context.Context, sub subscriber.Subscriber, title, body string) Outcome
}

// SubscriberStore is the durable mapping from name to Subscriber, queryable
// by staleness. All mutations are single-row and last-write-wins.
type SubscriberStore interface {
	// UpsertSubscription creates or overwrites the subscription for name,
	// setting last_active to now and status to subscribed.
	UpsertSubscription(ctx context.Context, name string, sub subscriber.Subscription) (subscriber.Subscriber, error)

	// Touch advances last_active for name. It reports whether the
	// subscriber existed; an unknown name is not an error.
	Touch(ctx context.Context, name string) (bool, error)

	// FindByName returns the subscriber or ErrNotFound.
	FindByName(ctx context.Context, name string) (subscriber.Subscriber, error)

	// FindByID returns the subscriber or ErrNotFound.
	FindByID(ctx context.Context, id string) (subscriber.Subscriber, error)

	// ListStale returns every subscribed subscriber whose last activity is
	// older than threshold, in unspecified order.
	ListStale(ctx context.Context, threshold time.Duration) ([]subscriber.Subscriber, error)

	// MarkDelivered resets last_active after a successful send so the
	// subscriber is not re-notified on the very next cycle.
	MarkDelivered(ctx context.Context, id string) error

	// Invalidate clears the subscription and marks the subscriber
	// unsubscribed.
	Invalidate(ctx context.Context, id string) error

	// ListAll returns every subscriber, for diagnostics.
	ListAll(ctx context.Context) ([]subscriber.Subscriber, error)
}
