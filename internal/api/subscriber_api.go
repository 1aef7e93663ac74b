// Package api contains the HTTP glue in front of the re-engagement engine:
// subscription registration, heartbeats, and the manual test/diagnostic
// endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-reengagement-service/internal/platform/vapid"
	"github.com/tinywideclouds/go-reengagement-service/pkg/dispatch"
	"github.com/tinywideclouds/go-reengagement-service/pkg/subscriber"
)

// TestNotificationTitle and TestNotificationBody are the copy used by the
// manual test-send endpoint.
const (
	TestNotificationTitle = "Test Notification"
	TestNotificationBody  = "This is a test notification from the server!"
)

type SubscriberAPI struct {
	Store      dispatch.SubscriberStore
	Dispatcher dispatch.Dispatcher
	Signer     *vapid.Signer
	Logger     *slog.Logger
}

func NewSubscriberAPI(store dispatch.SubscriberStore, dispatcher dispatch.Dispatcher, signer *vapid.Signer, logger *slog.Logger) *SubscriberAPI {
	return &SubscriberAPI{
		Store:      store,
		Dispatcher: dispatcher,
		Signer:     signer,
		Logger:     logger,
	}
}

// --- GET /vapid-public-key ---

func (api *SubscriberAPI) VapidPublicKeyHandler(w http.ResponseWriter, _ *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]string{"publicKey": api.Signer.PublicKey()})
}

// --- POST /subscribe ---

type SubscribeRequest struct {
	Name         string                   `json:"name"`
	Subscription *subscriber.Subscription `json:"subscription"`
}

func (m SubscribeRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&m.Subscription, validation.Required),
	)
}

func (api *SubscriberAPI) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		api.Logger.Warn("Subscribe: validation failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The descriptor keys must exist or every future send is doomed.
	if req.Subscription.Endpoint == "" || req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		api.Logger.Warn("Subscribe: incomplete subscription object", "name", req.Name)
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	sub, err := api.Store.UpsertSubscription(ctx, req.Name, *req.Subscription)
	if err != nil {
		api.Logger.Error("Failed to upsert subscription", "name", req.Name, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Subscription registered", "name", sub.Name, "endpoint", sub.Subscription.Endpoint)

	api.writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

// --- POST /heartbeat ---

type HeartbeatRequest struct {
	Name string `json:"name"`
}

func (m HeartbeatRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required),
	)
}

// HeartbeatHandler advances last_active. An unknown name is a silent no-op,
// not an error: clients may heartbeat before their first subscribe.
func (api *SubscriberAPI) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	existed, err := api.Store.Touch(ctx, req.Name)
	if err != nil {
		api.Logger.Error("Failed to record heartbeat", "name", req.Name, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if !existed {
		api.Logger.Debug("Heartbeat for unknown subscriber", "name", req.Name)
	}

	api.writeJSON(w, http.StatusOK, map[string]string{"status": "heartbeat updated"})
}

// --- POST /test-send/{name} ---

type TestSendResponse struct {
	Name            string          `json:"name"`
	HasSubscription bool            `json:"hasSubscription"`
	Result          dispatch.Result `json:"result"`
	StatusCode      int             `json:"statusCode,omitempty"`
	Endpoint        string          `json:"endpoint,omitempty"`
}

// TestSendHandler dispatches one notification directly, bypassing the
// scheduler. Unlike scheduler-driven sends it performs no reconciliation;
// it only reports what happened.
func (api *SubscriberAPI) TestSendHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	sub, err := api.Store.FindByName(ctx, name)
	if errors.Is(err, dispatch.ErrNotFound) {
		response.WriteJSONError(w, http.StatusNotFound, "subscriber not found")
		return
	}
	if err != nil {
		api.Logger.Error("Failed to load subscriber", "name", name, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	outcome := api.Dispatcher.Send(ctx, sub, TestNotificationTitle, TestNotificationBody)

	resp := TestSendResponse{
		Name:            sub.Name,
		HasSubscription: sub.Subscribed(),
		Result:          outcome.Result,
		StatusCode:      outcome.StatusCode,
	}
	if sub.Subscription != nil {
		resp.Endpoint = sub.Subscription.Endpoint
	}
	api.writeJSON(w, http.StatusOK, resp)
}

// --- GET /subscribers ---

// SubscriberView is the diagnostic projection of a subscriber. The
// descriptor's encryption keys are secret material and never leave the
// service.
type SubscriberView struct {
	Name            string            `json:"name"`
	Status          subscriber.Status `json:"status"`
	HasSubscription bool              `json:"hasSubscription"`
	Endpoint        string            `json:"endpoint,omitempty"`
	LastActive      time.Time         `json:"lastActive"`
}

func (api *SubscriberAPI) ListSubscribersHandler(w http.ResponseWriter, r *http.Request) {
	subs, err := api.Store.ListAll(r.Context())
	if err != nil {
		api.Logger.Error("Failed to list subscribers", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	views := make([]SubscriberView, 0, len(subs))
	for _, sub := range subs {
		view := SubscriberView{
			Name:            sub.Name,
			Status:          sub.Status,
			HasSubscription: sub.Subscription != nil,
			LastActive:      sub.LastActive,
		}
		if sub.Subscription != nil {
			view.Endpoint = sub.Subscription.Endpoint
		}
		views = append(views, view)
	}

	api.writeJSON(w, http.StatusOK, map[string][]SubscriberView{"subscribers": views})
}

// --- Helpers ---

func (api *SubscriberAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		api.Logger.Error("Failed to encode response", "err", err)
	}
}
