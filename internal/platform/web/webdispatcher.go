// Package web delivers signed push notifications to browser endpoints and
// classifies the result of each attempt.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-reengagement-service/internal/platform/vapid"
	"github.com/tinywideclouds/go-reengagement-service/pkg/dispatch"
	"github.com/tinywideclouds/go-reengagement-service/pkg/subscriber"
)

const (
	// defaultIcon is shown by the browser next to the notification body.
	defaultIcon = "https://via.placeholder.com/64"

	// pushTTL is how long the push service may queue an undelivered
	// notification, in seconds.
	pushTTL = 60
)

// Dispatcher sends one signed notification to one subscriber's endpoint.
// It never mutates the store; callers reconcile the returned Outcome.
type Dispatcher struct {
	signer     *vapid.Signer
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

// NewDispatcher wires a dispatcher to the process-wide signer. timeout
// bounds each network send; zero selects the 10 second default.
func NewDispatcher(signer *vapid.Signer, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		signer:     signer,
		timeout:    timeout,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// payload is the JSON body the service worker receives.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
}

// Send attempts delivery of one notification. A subscriber without an
// endpoint descriptor is skipped without any network I/O.
func (d *Dispatcher) Send(ctx context.Context, sub subscriber.Subscriber, title, body string) dispatch.Outcome {
	if !sub.Subscribed() {
		d.logger.Info("Subscriber has no subscription, skipping", "name", sub.Name)
		return dispatch.Outcome{Result: dispatch.ResultSkippedNoSubscription}
	}

	payloadBytes, err := json.Marshal(payload{Title: title, Body: body, Icon: defaultIcon})
	if err != nil {
		return dispatch.Outcome{Result: dispatch.ResultTransient, Err: err}
	}

	cred, err := d.signer.Sign(sub.Subscription.Endpoint)
	if err != nil {
		d.logger.Error("Failed to sign delivery credential", "name", sub.Name, "err", err)
		return dispatch.Outcome{Result: dispatch.ResultTransient, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	publicKey, privateKey := d.signer.Keys()
	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &webpush.Subscription{
		Endpoint: sub.Subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Subscription.Keys.P256dh,
			Auth:   sub.Subscription.Keys.Auth,
		},
	}, &webpush.Options{
		// The library derives its own aud claim from the endpoint host
		// alone; the relay rule in vapid.Audience must win, so the signed
		// header is swapped in on the wire.
		HTTPClient:      &credentialClient{base: d.httpClient, authorization: cred.Authorization},
		Subscriber:      d.signer.Subject(),
		VAPIDPublicKey:  publicKey,
		VAPIDPrivateKey: privateKey,
		TTL:             pushTTL,
	})
	if err != nil {
		// Transport error (DNS, timeout) - eligible for retry next cycle.
		d.logger.Warn("WebPush transport error", "name", sub.Name, "audience", cred.Audience, "err", err)
		return dispatch.Outcome{Result: dispatch.ResultTransient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return dispatch.Outcome{Result: dispatch.ResultDelivered, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// Endpoint is dead. Caller must invalidate the subscription.
		d.logger.Info("WebPush endpoint gone", "name", sub.Name, "status", resp.StatusCode)
		return dispatch.Outcome{Result: dispatch.ResultGone, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		// Signing misconfiguration, not a dead endpoint. Needs an operator.
		d.logger.Error("WebPush authorization rejected, check VAPID keys and claims",
			"name", sub.Name, "status", resp.StatusCode, "audience", cred.Audience)
		return dispatch.Outcome{Result: dispatch.ResultAuthRejected, StatusCode: resp.StatusCode}
	default:
		d.logger.Warn("WebPush rejected", "name", sub.Name, "status", resp.StatusCode)
		return dispatch.Outcome{Result: dispatch.ResultTransient, StatusCode: resp.StatusCode}
	}
}

// credentialClient applies the signed Authorization header to each request
// before handing it to the underlying client.
type credentialClient struct {
	base          *http.Client
	authorization string
}

func (c *credentialClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", c.authorization)
	return c.base.Do(req)
}
