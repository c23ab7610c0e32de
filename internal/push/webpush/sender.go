// Package webpush delivers encrypted Web Push messages signed with VAPID keys.
package webpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpushgo "github.com/SherClockHolmes/webpush-go"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// Config holds VAPID credentials and message options.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             int
	Urgency         string
	HTTPClient      *http.Client
}

// Sender implements newsletter.PushSender.
type Sender struct {
	cfg Config
}

// New validates cfg and builds a Sender.
func New(cfg Config) (*Sender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, errors.New("webpush: VAPID keys are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 86400
	}
	if cfg.Urgency == "" {
		cfg.Urgency = string(webpushgo.UrgencyNormal)
	}
	return &Sender{cfg: cfg}, nil
}

// GenerateKeys returns a fresh VAPID key pair.
func GenerateKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpushgo.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keys: %w", err)
	}
	return publicKey, privateKey, nil
}

// Send encrypts payload for sub and posts it to the subscription endpoint.
// Non-2xx answers are returned as *newsletter.DispatchError; 404 and 410 mark
// the endpoint as gone.
func (s *Sender) Send(ctx context.Context, sub newsletter.Subscription, payload []byte) error {
	opts := &webpushgo.Options{
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         webpushgo.Urgency(s.cfg.Urgency),
	}
	if s.cfg.HTTPClient != nil {
		opts.HTTPClient = s.cfg.HTTPClient
	}
	resp, err := webpushgo.SendNotificationWithContext(ctx, payload, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpushgo.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, opts)
	if err != nil {
		return fmt.Errorf("send push to %s: %w", sub.Endpoint, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &newsletter.DispatchError{
			Endpoint:   sub.Endpoint,
			StatusCode: resp.StatusCode,
			Gone:       resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound,
		}
	}
	return nil
}
