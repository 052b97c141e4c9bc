package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Webhook object and aspect types sent by Strava.
const (
	ObjectTypeActivity = "activity"
	ObjectTypeAthlete  = "athlete"

	AspectTypeCreate = "create"
	AspectTypeUpdate = "update"
	AspectTypeDelete = "delete"
)

// WebhookNotification is one inbound Strava push event.
type WebhookNotification struct {
	ObjectType     string         `json:"object_type"`
	ObjectID       int64          `json:"object_id"`
	AspectType     string         `json:"aspect_type"`
	OwnerID        int64          `json:"owner_id"`
	EventTime      int64          `json:"event_time"`
	SubscriptionID int64          `json:"subscription_id,omitempty"`
	Updates        map[string]any `json:"updates,omitempty"`
}

// Enqueueable reports whether the notification passes the structural filter:
// activity creates and updates only.
func (n WebhookNotification) Enqueueable() bool {
	if n.ObjectType != ObjectTypeActivity {
		return false
	}
	return n.AspectType == AspectTypeCreate || n.AspectType == AspectTypeUpdate
}

// Deauthorization reports whether the athlete revoked access to the application.
func (n WebhookNotification) Deauthorization() bool {
	return n.ObjectType == ObjectTypeAthlete &&
		n.AspectType == AspectTypeUpdate &&
		fmt.Sprint(n.Updates["authorized"]) == "false"
}

// EventAt returns the event time as a UTC timestamp.
func (n WebhookNotification) EventAt() time.Time {
	return time.Unix(n.EventTime, 0).UTC()
}

// Key is the queue partition key. Notifications for one activity share a key.
func (n WebhookNotification) Key() string {
	return strconv.FormatInt(n.ObjectID, 10)
}

// DecodeNotification parses a JSON notification.
func DecodeNotification(data []byte) (WebhookNotification, error) {
	var n WebhookNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return WebhookNotification{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return n, nil
}

// Delivery is one attempt to hand a queued notification to the worker.
type Delivery struct {
	ID        string
	Key       []byte
	Payload   []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}
