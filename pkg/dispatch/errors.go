package dispatch

import "errors"

// ErrNotFound is returned by SubscriberStore lookups when no subscriber
// exists for the given name.
var ErrNotFound = errors.New("subscriber not found")
