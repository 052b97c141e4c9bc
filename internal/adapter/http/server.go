// Package http exposes the service over HTTP: the Strava webhook, the OAuth
// connect and callback pages, and the health and metrics endpoints.
package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/authflow"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/ingress"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds notification bodies; real ones are a few hundred bytes.
const maxWebhookBody = 64 << 10

// Webhook is the ingress side of the Strava push subscription.
type Webhook interface {
	VerifySubscription(mode, token, challenge string) (string, error)
	AcceptNotification(ctx context.Context, body []byte, signature string) (ingress.Disposition, error)
}

// AuthFlow is the OAuth connect flow.
type AuthFlow interface {
	Initiate(ctx context.Context) (string, error)
	Callback(ctx context.Context, p authflow.CallbackParams) authflow.CallbackResult
}

// Server serves the webhook, OAuth, health, readiness, and metrics routes.
type Server struct {
	httpServer *http.Server
	webhook    Webhook
	auth       AuthFlow
	logger     *slog.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(addr string, webhook Webhook, auth AuthFlow, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		webhook: webhook,
		auth:    auth,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /webhook", s.handleVerify)
	mux.HandleFunc("POST /webhook", s.handleNotification)
	mux.HandleFunc("GET /connect", s.handleConnect)
	mux.HandleFunc("GET /callback", s.handleCallback)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := s.webhook.VerifySubscription(
		firstParam(q.Get("hub.mode"), q.Get("mode")),
		firstParam(q.Get("hub.verify_token"), q.Get("verify_token")),
		firstParam(q.Get("hub.challenge"), q.Get("challenge")),
	)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	disposition, err := s.webhook.AcceptNotification(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		sharedobs.WriteJSON(w, http.StatusOK, map[string]string{"status": string(disposition)})
	case errors.Is(err, domain.ErrSignatureInvalid):
		s.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
	case errors.Is(err, domain.ErrMalformedPayload):
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	default:
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "notification not queued"})
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	target, err := s.auth.Initiate(r.Context())
	if err != nil {
		s.logger.Error("initiate authorization", "error", err)
		renderPage(w, http.StatusInternalServerError, pageFailed, nil)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := s.auth.Callback(r.Context(), authflow.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
		Scope: q.Get("scope"),
	})

	switch res.Outcome {
	case authflow.OutcomeConnected:
		renderPage(w, http.StatusOK, pageConnected, res)
	case authflow.OutcomeDenied:
		renderPage(w, http.StatusBadRequest, pageDenied, nil)
	case authflow.OutcomeMissingCode:
		renderPage(w, http.StatusBadRequest, pageMissingCode, nil)
	case authflow.OutcomeInvalidState:
		renderPage(w, http.StatusForbidden, pageInvalidState, nil)
	default:
		renderPage(w, http.StatusInternalServerError, pageFailed, nil)
	}
}

func firstParam(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
