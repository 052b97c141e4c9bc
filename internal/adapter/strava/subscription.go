package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Subscription is a registered push subscription.
type Subscription struct {
	ID          int64  `json:"id"`
	CallbackURL string `json:"callback_url"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// SubscriptionClient manages the application's webhook subscription. Strava
// allows one subscription per application.
type SubscriptionClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewSubscriptionClient creates a SubscriptionClient.
func NewSubscriptionClient(baseURL, clientID, clientSecret string, timeout time.Duration) *SubscriptionClient {
	return &SubscriptionClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Create registers callbackURL. Strava calls the webhook GET handshake
// synchronously before this returns.
func (c *SubscriptionClient) Create(ctx context.Context, callbackURL, verifyToken string) (Subscription, error) {
	form := c.credentials()
	form.Set("callback_url", callbackURL)
	form.Set("verify_token", verifyToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push_subscriptions", strings.NewReader(form.Encode()))
	if err != nil {
		return Subscription{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var sub Subscription
	if err := c.do(req, http.StatusCreated, &sub); err != nil {
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// List returns the current subscriptions.
func (c *SubscriptionClient) List(ctx context.Context) ([]Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/push_subscriptions?"+c.credentials().Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var subs []Subscription
	if err := c.do(req, http.StatusOK, &subs); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// Delete removes a subscription by id.
func (c *SubscriptionClient) Delete(ctx context.Context, id int64) error {
	u := c.baseURL + "/push_subscriptions/" + strconv.FormatInt(id, 10) + "?" + c.credentials().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if err := c.do(req, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("delete subscription %d: %w", id, err)
	}
	return nil
}

func (c *SubscriptionClient) credentials() url.Values {
	return url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
}

func (c *SubscriptionClient) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
