// Package ingress admits Strava webhook traffic: the subscription handshake
// and signed notifications bound for the queue.
package ingress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
)

// SubscribeMode is the only hub.mode accepted by the handshake.
const SubscribeMode = "subscribe"

const signaturePrefix = "sha256="

//go:embed notification.schema.json
var notificationSchema []byte

// Enqueuer hands an accepted notification to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, n domain.WebhookNotification, raw []byte) error
}

// Disposition is what happened to an accepted notification.
type Disposition string

const (
	Queued  Disposition = "queued"
	Ignored Disposition = "ignored"
)

// Gatekeeper verifies and filters webhook traffic.
type Gatekeeper struct {
	secret      []byte
	verifyToken string
	schema      *jsonschema.Schema
	queue       Enqueuer
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewGatekeeper creates a Gatekeeper. Signatures are keyed by clientSecret.
func NewGatekeeper(clientSecret, verifyToken string, queue Enqueuer, metrics *observability.Metrics, logger *slog.Logger) (*Gatekeeper, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Gatekeeper{
		secret:      []byte(clientSecret),
		verifyToken: verifyToken,
		schema:      schema,
		queue:       queue,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(notificationSchema))
	if err != nil {
		return nil, fmt.Errorf("parse notification schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("notification.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add notification schema: %w", err)
	}
	schema, err := c.Compile("notification.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile notification schema: %w", err)
	}
	return schema, nil
}

// VerifySubscription answers the subscription handshake, returning the
// challenge to echo back.
func (g *Gatekeeper) VerifySubscription(mode, token, challenge string) (string, error) {
	if mode != SubscribeMode || token == "" || token != g.verifyToken {
		g.metrics.WebhookRequests.WithLabelValues("rejected").Inc()
		g.logger.Warn("subscription handshake rejected", "mode", mode)
		return "", domain.ErrSubscriptionRejected
	}
	g.metrics.WebhookRequests.WithLabelValues("verified").Inc()
	g.logger.Info("subscription handshake verified")
	return challenge, nil
}

// AcceptNotification verifies the signature over the raw body before parsing
// it, then enqueues activity creates and updates. Everything else that is
// correctly signed is acknowledged without enqueue.
func (g *Gatekeeper) AcceptNotification(ctx context.Context, body []byte, signature string) (Disposition, error) {
	if !g.validSignature(body, signature) {
		g.metrics.WebhookRequests.WithLabelValues("bad_signature").Inc()
		return "", domain.ErrSignatureInvalid
	}

	n, err := g.parse(body)
	if err != nil {
		g.metrics.WebhookRequests.WithLabelValues("malformed").Inc()
		return "", err
	}

	if !n.Enqueueable() {
		if n.Deauthorization() {
			g.logger.Info("athlete deauthorized application", "athlete_id", n.OwnerID)
		}
		g.metrics.WebhookRequests.WithLabelValues("ignored").Inc()
		g.metrics.NotificationsDropped.Inc()
		return Ignored, nil
	}

	if err := g.queue.Enqueue(ctx, n, body); err != nil {
		g.metrics.WebhookRequests.WithLabelValues("enqueue_failed").Inc()
		g.logger.Error("enqueue notification", "activity_id", n.ObjectID, "error", err)
		return "", fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
	}

	g.metrics.WebhookRequests.WithLabelValues("queued").Inc()
	g.metrics.NotificationsQueued.Inc()
	g.logger.Debug("notification queued", "activity_id", n.ObjectID, "aspect_type", n.AspectType, "athlete_id", n.OwnerID)
	return Queued, nil
}

func (g *Gatekeeper) parse(body []byte) (domain.WebhookNotification, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return domain.WebhookNotification{}, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	if err := g.schema.Validate(inst); err != nil {
		return domain.WebhookNotification{}, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	return domain.DecodeNotification(body)
}

func (g *Gatekeeper) validSignature(body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(g.secret, body))
}

// Sign returns the raw HMAC-SHA256 of body keyed by secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeader formats a signature the way the webhook handler expects it.
func SignatureHeader(secret, body []byte) string {
	return signaturePrefix + hex.EncodeToString(Sign(secret, body))
}
