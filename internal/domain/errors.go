package domain

import "errors"

var (
	// ErrSignatureInvalid is returned when a webhook signature is missing or wrong.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrMalformedPayload is returned when a signed body is not a valid notification.
	ErrMalformedPayload = errors.New("malformed notification payload")
	// ErrQueueUnavailable is returned when a notification cannot be enqueued.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrSubscriptionRejected is returned when a subscription handshake does not match.
	ErrSubscriptionRejected = errors.New("subscription verification rejected")

	// ErrActivityFetchFailed is returned when an activity cannot be read.
	ErrActivityFetchFailed = errors.New("activity fetch failed")
	// ErrActivityNotFound is returned when the activity no longer exists.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrExternalUpdateFailed is returned when the activity update call fails.
	ErrExternalUpdateFailed = errors.New("activity update failed")

	// ErrCredentialNotFound is returned when an athlete never connected.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrTokenRefreshFailed is returned when the provider rejects a refresh.
	ErrTokenRefreshFailed = errors.New("token refresh failed")
	// ErrTokenExchangeFailed is returned when an authorization code exchange fails.
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrAuthStateInvalid is returned for missing, expired, or replayed state tokens.
	ErrAuthStateInvalid = errors.New("authorization state invalid")
	// ErrStoreUnavailable is returned when a backing store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ErrorKind maps errors to a stable label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrQueueUnavailable):
		return "queue_unavailable"
	case errors.Is(err, ErrSubscriptionRejected):
		return "subscription_rejected"
	case errors.Is(err, ErrActivityNotFound):
		return "activity_not_found"
	case errors.Is(err, ErrActivityFetchFailed):
		return "activity_fetch_failed"
	case errors.Is(err, ErrExternalUpdateFailed):
		return "external_update_failed"
	case errors.Is(err, ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, ErrTokenRefreshFailed):
		return "token_refresh_failed"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, ErrAuthStateInvalid):
		return "auth_state_invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "unexpected"
}
