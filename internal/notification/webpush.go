package notification

import (
	"context"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"slothive/internal/logging"
	"slothive/internal/model"
	"slothive/internal/store"
)

// PushDeliverer sends a single web push message; split out so tests can stub
// the wire call.
type PushDeliverer interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

type libraryDeliverer struct{}

func (libraryDeliverer) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WebPushSender delivers hunt events to every stored browser subscription.
type WebPushSender struct {
	store     store.Store
	options   *webpush.Options
	deliverer PushDeliverer
}

func NewWebPushSender(s store.Store, options *webpush.Options) *WebPushSender {
	return &WebPushSender{store: s, options: options, deliverer: libraryDeliverer{}}
}

// SetDeliverer replaces the wire implementation, for tests.
func (w *WebPushSender) SetDeliverer(d PushDeliverer) { w.deliverer = d }

func (w *WebPushSender) Name() string { return "webpush" }

func (w *WebPushSender) Send(ctx context.Context, ev Event) error {
	subs, err := w.store.Subscriptions(ctx)
	if err != nil {
		return err
	}
	payload := []byte(ev.Message())

	for _, sub := range subs {
		w.sendOne(ctx, sub, payload)
	}
	return nil
}

func (w *WebPushSender) sendOne(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := w.deliverer.Send(payload, wpSub, w.options)
	if err != nil {
		logging.L().Warnw("web push failed", "endpoint", sub.Endpoint, "err", err)
		return
	}
	defer resp.Body.Close()

	// 410 means the browser dropped the subscription; prune it.
	if resp.StatusCode == http.StatusGone {
		logging.L().Infow("pruning expired push subscription", "endpoint", sub.Endpoint)
		if err := w.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			logging.L().Warnw("failed to delete expired subscription", "endpoint", sub.Endpoint, "err", err)
		}
	}
}
