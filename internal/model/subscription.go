package model

import "time"

// Subscription is a browser Web Push subscription.
type Subscription struct {
	ID             string           `json:"id"`
	Endpoint       string           `json:"endpoint"`
	ExpirationTime *int64           `json:"expirationTime"`
	Keys           SubscriptionKeys `json:"keys"`
	Name           string           `json:"name"`
	UserAgent      string           `json:"userAgent"`
	Status         string           `json:"status"`
	LastSuccessAt  *time.Time       `json:"lastSuccessAt,omitempty"`
	FailureCount   int              `json:"failureCount"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// SubscriptionKeys are the client's ECDH public key and auth secret.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

const (
	SubscriptionStatusActive = "ACTIVE"
	SubscriptionStatusStop   = "STOP"
)

// SubscriptionView hides key material when returning subscriptions to clients.
type SubscriptionView struct {
	ID            string     `json:"id"`
	Endpoint      string     `json:"endpoint"`
	Name          string     `json:"name"`
	UserAgent     string     `json:"userAgent"`
	P256dh        string     `json:"p256dh"`
	Auth          string     `json:"auth"`
	Status        string     `json:"status"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	FailureCount  int        `json:"failureCount"`
	CreatedAt     time.Time  `json:"createdAt"`
}
